// Package cli provides the polter command for smart binary execution
package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/state"
	"github.com/poltergeist/poltergeist/pkg/types"
	"github.com/spf13/cobra"
)

var (
	polterTimeout  int
	polterForce    bool
	polterNoWait   bool
	polterVerbose  bool
	polterShowLogs bool
	polterLogLines int
)

// buildWaitResult is the outcome of polling a target's on-disk build state
// while a build is in progress.
type buildWaitResult string

const (
	buildResultSuccess buildWaitResult = "success"
	buildResultFailed  buildWaitResult = "failed"
	buildResultTimeout buildWaitResult = "timeout"
	buildResultUnknown buildWaitResult = "unknown"
	buildResultBuilding buildWaitResult = "building"
)

// polterStyles bundles the color styles runPolter threads through its
// helpers so they don't need four separate *color.Color parameters each.
type polterStyles struct {
	errorStyle   *color.Color
	warningStyle *color.Color
	successStyle *color.Color
	infoStyle    *color.Color
}

func newPolterStyles() polterStyles {
	return polterStyles{
		errorStyle:   color.New(color.FgRed),
		warningStyle: color.New(color.FgYellow),
		successStyle: color.New(color.FgGreen),
		infoStyle:    color.New(color.FgCyan),
	}
}

// newPolterCmd creates the polter command
func newPolterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "polter [target] [args...]",
		Short: "Smart wrapper for running executables managed by Poltergeist",
		Long: `Smart wrapper that ensures you never run stale or failed builds by:
  - Checking build status before execution
  - Waiting for in-progress builds to complete
  - Failing fast on build errors with clear messages
  - Executing fresh binaries only when builds succeed`,
		Args:                  cobra.ArbitraryArgs,
		DisableFlagsInUseLine: true,
		RunE:                  runPolter,
	}

	cmd.Flags().IntVarP(&polterTimeout, "timeout", "t", 300000, "Build wait timeout in milliseconds")
	cmd.Flags().BoolVarP(&polterForce, "force", "f", false, "Run even if build failed")
	cmd.Flags().BoolVarP(&polterNoWait, "no-wait", "n", false, "Don't wait for builds, fail if building")
	cmd.Flags().BoolVar(&polterVerbose, "verbose", false, "Show detailed status information")
	cmd.Flags().BoolVar(&polterShowLogs, "logs", true, "Show build logs during progress")
	cmd.Flags().IntVar(&polterLogLines, "log-lines", 5, "Number of log lines to show")

	return cmd
}

func runPolter(cmd *cobra.Command, args []string) error {
	styles := newPolterStyles()

	var targetName string
	var targetArgs []string
	if len(args) > 0 {
		targetName = args[0]
		if len(args) > 1 {
			targetArgs = args[1:]
		}
	}

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		styles.errorStyle.Println("❌ Failed to load configuration:", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if targetName == "" {
		targetName = defaultExecutableTarget(cfg, styles)
		if targetName == "" {
			styles.errorStyle.Println("❌ No executable targets configured")
			styles.warningStyle.Println("💡 Configure an executable target in poltergeist.config.json")
			return fmt.Errorf("no executable targets configured")
		}
	}

	target := resolveTarget(cfg, targetName)
	if target == nil {
		if polterVerbose {
			styles.warningStyle.Printf("⚠️  Target '%s' not found in config - attempting stale execution\n", targetName)
		}
		os.Exit(executeStaleWithWarning(targetName, projectRoot, targetArgs, styles))
	}

	if target.GetType() != types.TargetTypeExecutable {
		styles.errorStyle.Printf("❌ Target '%s' is not executable (type: %s)\n", targetName, target.GetType())
		styles.warningStyle.Println("💡 polter only works with executable targets")
		return fmt.Errorf("target is not executable")
	}

	if polterVerbose {
		styles.infoStyle.Printf("📍 Project root: %s\n", projectRoot)
		styles.infoStyle.Printf("🎯 Target: %s\n", target.GetName())
	}

	status := getBuildStatus(projectRoot, target)
	if polterVerbose {
		styles.infoStyle.Printf("📊 Build status: %s\n", status)
	}

	if err := gateOnBuildStatus(status, targetName, target, styles); err != nil {
		return err
	}

	exitCode := executeTarget(target, projectRoot, targetArgs, styles)
	if exitCode != 0 {
		return fmt.Errorf("execution failed with exit code %d", exitCode)
	}
	return nil
}

// defaultExecutableTarget picks the first enabled executable target in
// declaration order, the same "first match wins" rule detectProjectType
// uses for project markers.
func defaultExecutableTarget(cfg *types.PoltergeistConfig, styles polterStyles) string {
	for _, rawTarget := range cfg.Targets {
		target, err := types.ParseTarget(rawTarget)
		if err != nil {
			continue
		}
		if target.GetType() == types.TargetTypeExecutable && target.IsEnabled() {
			styles.infoStyle.Printf("🎯 Using default target: %s\n", target.GetName())
			return target.GetName()
		}
	}
	return ""
}

func resolveTarget(cfg *types.PoltergeistConfig, targetName string) types.Target {
	for _, rawTarget := range cfg.Targets {
		t, err := types.ParseTarget(rawTarget)
		if err != nil {
			continue
		}
		if t.GetName() == targetName {
			return t
		}
	}
	return nil
}

// gateOnBuildStatus blocks, refuses, or waves a target's execution through
// depending on the build state Poltergeist last recorded for it.
func gateOnBuildStatus(status buildWaitResult, targetName string, target types.Target, styles polterStyles) error {
	switch status {
	case buildResultBuilding:
		if polterNoWait {
			styles.errorStyle.Println("❌ Build in progress and --no-wait specified")
			return fmt.Errorf("build in progress")
		}

		result := waitForBuildCompletion(projectRoot, target, time.Duration(polterTimeout)*time.Millisecond, styles)
		switch result {
		case buildResultTimeout:
			styles.errorStyle.Printf("❌ Build timeout after %dms\n", polterTimeout)
			styles.warningStyle.Println("💡 Solutions:")
			fmt.Printf("   • Increase timeout: polter %s --timeout %d\n", targetName, polterTimeout*2)
			fmt.Println("   • Check build logs: poltergeist logs")
			fmt.Println("   • Verify Poltergeist is running: poltergeist status")
			return fmt.Errorf("build timeout")
		case buildResultFailed:
			if !polterForce {
				styles.errorStyle.Println("❌ Build failed")
				styles.warningStyle.Println("💡 Options:")
				fmt.Println("   • Check build logs: poltergeist logs")
				fmt.Printf("   • Force execution anyway: polter %s --force\n", targetName)
				fmt.Println("   • Fix build errors and try again")
				return fmt.Errorf("build failed")
			}
			styles.warningStyle.Println("⚠️  Running despite build failure (--force specified)")
		}

	case buildResultFailed:
		if !polterForce {
			styles.errorStyle.Println("❌ Last build failed")
			styles.warningStyle.Println("🔧 Run `poltergeist logs` for details or use --force to run anyway")
			return fmt.Errorf("last build failed")
		}
		styles.warningStyle.Println("⚠️  Running despite build failure (--force specified)")

	case buildResultSuccess:
		if polterVerbose {
			styles.successStyle.Println("✅ Build successful")
		}

	case buildResultUnknown:
		styles.warningStyle.Println("⚠️  Build status unknown, proceeding...")
	}
	return nil
}

func getBuildStatus(projectRoot string, target types.Target) buildWaitResult {
	log := logger.CreateLogger("", verbosity)
	sm := state.NewStateManager(projectRoot, log)
	s, err := sm.ReadState(target.GetName())
	if err != nil || s == nil {
		return buildResultUnknown
	}

	switch s.BuildStatus {
	case types.BuildStatusBuilding:
		return buildResultBuilding
	case types.BuildStatusFailed:
		return buildResultFailed
	case types.BuildStatusSucceeded:
		return buildResultSuccess
	default:
		return buildResultUnknown
	}
}

func waitForBuildCompletion(projectRoot string, target types.Target, timeout time.Duration, styles polterStyles) buildWaitResult {
	startTime := time.Now()
	fmt.Print("Build in progress")

	for time.Since(startTime) < timeout {
		status := getBuildStatus(projectRoot, target)
		elapsed := time.Since(startTime)
		fmt.Printf("\rBuild in progress... %.1fs", elapsed.Seconds())

		switch status {
		case buildResultSuccess:
			fmt.Println()
			styles.successStyle.Println("✅ Build completed successfully")
			return buildResultSuccess
		case buildResultFailed:
			fmt.Println()
			styles.errorStyle.Println("❌ Build failed")
			return buildResultFailed
		case buildResultBuilding:
			// Continue waiting
		default:
			fmt.Println()
			return status
		}

		time.Sleep(250 * time.Millisecond)
	}

	fmt.Println()
	return buildResultTimeout
}

func executeTarget(target types.Target, projectRoot string, args []string, styles polterStyles) int {
	var binaryPath string

	execTarget, ok := target.(*types.ExecutableTarget)
	if !ok || execTarget.OutputPath == "" {
		styles.errorStyle.Printf("❌ Target '%s' does not have an output path\n", target.GetName())
		return 1
	}
	binaryPath = filepath.Join(projectRoot, execTarget.OutputPath)

	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		styles.errorStyle.Printf("❌ Binary not found: %s\n", binaryPath)
		fmt.Println("🔧 Try running: poltergeist watch")
		return 1
	}

	styles.successStyle.Printf("✅ Running fresh binary: %s\n", target.GetName())
	return runBinary(binaryPath, projectRoot, args, target.GetName(), styles)
}

func executeStaleWithWarning(targetName, projectRoot string, args []string, styles polterStyles) int {
	possiblePaths := []string{
		filepath.Join(projectRoot, targetName),
		filepath.Join(projectRoot, "build", targetName),
		filepath.Join(projectRoot, "dist", targetName),
		filepath.Join(projectRoot, targetName+".exe"),
		filepath.Join(projectRoot, "build", targetName+".exe"),
		filepath.Join(projectRoot, "dist", targetName+".exe"),
	}

	var binaryPath string
	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			binaryPath = path
			break
		}
	}

	if binaryPath == "" {
		styles.errorStyle.Printf("❌ Binary not found for target '%s'\n", targetName)
		styles.warningStyle.Println("Tried the following locations:")
		for _, path := range possiblePaths {
			fmt.Printf("   %s\n", path)
		}
		styles.warningStyle.Println("🔧 Try running a manual build first")
		return 1
	}

	styles.warningStyle.Println("⚠️  POLTERGEIST NOT RUNNING - EXECUTING POTENTIALLY STALE BINARY")
	styles.warningStyle.Println("   The binary may be outdated. For fresh builds, start Poltergeist:")
	styles.warningStyle.Println("   poltergeist watch")
	fmt.Println()

	if polterVerbose {
		styles.infoStyle.Printf("📍 Project root: %s\n", projectRoot)
		styles.infoStyle.Printf("🎯 Binary path: %s\n", binaryPath)
		styles.warningStyle.Println("⚠️  Status: Executing without build verification")
	}

	styles.successStyle.Printf("✅ Running binary: %s (potentially stale)\n", targetName)
	return runBinary(binaryPath, projectRoot, args, targetName, styles)
}

// runBinary execs path, forwarding stdio and the child's exit code. A
// permission or missing-file error gets a targeted hint instead of a bare
// error string.
func runBinary(path, projectRoot string, args []string, label string, styles polterStyles) int {
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = projectRoot

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		styles.errorStyle.Printf("❌ Failed to execute %s: %v\n", label, err)

		switch {
		case strings.Contains(err.Error(), "permission denied"):
			styles.warningStyle.Println("💡 Permission denied:")
			fmt.Printf("   • Run: chmod +x %s\n", path)
			fmt.Println("   • Check file permissions")
		case strings.Contains(err.Error(), "no such file"):
			styles.warningStyle.Println("💡 Tips:")
			fmt.Println("   • Check if the binary exists and is executable")
			fmt.Println("   • Try running: poltergeist watch")
			fmt.Println("   • Verify the output path in your configuration")
		}
		return 1
	}

	return 0
}

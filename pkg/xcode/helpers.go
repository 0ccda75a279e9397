// Package xcode provides Xcode-specific helper functionality
package xcode

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/poltergeist/poltergeist/pkg/types"
)

// XcodeHelper discovers Xcode projects under a root directory and drives
// xcodebuild against them. It is a thin, optional layer on top of the core
// build/watch loop — app-bundle and CMake target types work without it;
// this package only adds richer output-artifact resolution and project
// scaffolding for those target types.
type XcodeHelper struct {
	projectRoot string
}

// NewXcodeHelper creates a new Xcode helper rooted at projectRoot.
func NewXcodeHelper(projectRoot string) *XcodeHelper {
	return &XcodeHelper{projectRoot: projectRoot}
}

// XcodeProject is a discovered .xcodeproj or .xcworkspace and its targets
// and schemes.
type XcodeProject struct {
	Path    string
	Name    string
	Targets []XcodeTarget
	Schemes []XcodeScheme
	WorkDir string
}

// XcodeTarget is one buildable target within an XcodeProject.
type XcodeTarget struct {
	Name         string
	Type         string
	Platform     types.Platform
	BundleID     string
	OutputPath   string
	Dependencies []string
}

// XcodeScheme is one scheme within an XcodeProject.
type XcodeScheme struct {
	Name        string
	Target      string
	BuildConfig string
	IsShared    bool
}

// BuildSettings is the subset of `xcodebuild -showBuildSettings` output
// this package cares about.
type BuildSettings struct {
	Configuration string
	Platform      string
	Arch          string
	SDK           string
	Settings      map[string]string
}

// xcodeProjectSkipDirs lists directory basenames FindXcodeProjects never
// descends into: hidden directories plus the build-output and dependency
// directories a project walk would otherwise churn through.
var xcodeProjectSkipDirs = map[string]bool{
	"build":       true,
	"DerivedData": true,
	"Pods":        true,
}

// FindXcodeProjects walks the helper's project root for .xcodeproj and
// .xcworkspace bundles, analyzing each with xcodebuild. A project that
// fails to analyze (xcodebuild missing, malformed project) is skipped
// rather than aborting the whole walk.
func (h *XcodeHelper) FindXcodeProjects() ([]XcodeProject, error) {
	var projects []XcodeProject

	err := filepath.Walk(h.projectRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() && (strings.HasPrefix(info.Name(), ".") || xcodeProjectSkipDirs[info.Name()]) {
			return filepath.SkipDir
		}

		if strings.HasSuffix(path, ".xcodeproj") || strings.HasSuffix(path, ".xcworkspace") {
			project, err := h.analyzeProject(path)
			if err != nil {
				return nil
			}
			projects = append(projects, *project)
		}

		return nil
	})

	return projects, err
}

// GetProjectInfo analyzes a single project path.
func (h *XcodeHelper) GetProjectInfo(projectPath string) (*XcodeProject, error) {
	return h.analyzeProject(projectPath)
}

// ListTargets returns a project's targets.
func (h *XcodeHelper) ListTargets(projectPath string) ([]XcodeTarget, error) {
	project, err := h.analyzeProject(projectPath)
	if err != nil {
		return nil, err
	}
	return project.Targets, nil
}

// ListSchemes returns a project's schemes.
func (h *XcodeHelper) ListSchemes(projectPath string) ([]XcodeScheme, error) {
	project, err := h.analyzeProject(projectPath)
	if err != nil {
		return nil, err
	}
	return project.Schemes, nil
}

// BuildTarget builds a single named target.
func (h *XcodeHelper) BuildTarget(projectPath, target, configuration, platform string) error {
	args := []string{"-project", projectPath, "-target", target, "-configuration", configuration}
	if platform != "" {
		args = append(args, "-destination", fmt.Sprintf("platform=%s", platform))
	}
	_, err := h.runXcodebuild(args...)
	return err
}

// BuildScheme runs a build using a scheme rather than a bare target.
func (h *XcodeHelper) BuildScheme(projectPath, scheme, configuration string) error {
	_, err := h.runXcodebuild("-project", projectPath, "-scheme", scheme, "-configuration", configuration, "build")
	return err
}

// CleanTarget runs `xcodebuild clean` for a target.
func (h *XcodeHelper) CleanTarget(projectPath, target string) error {
	_, err := h.runXcodebuild("-project", projectPath, "-target", target, "clean")
	return err
}

// GetBuildSettings returns the resolved build settings xcodebuild would use
// for target/configuration, including the common PLATFORM_NAME/ARCHS/
// SDKROOT shortcuts.
func (h *XcodeHelper) GetBuildSettings(projectPath, target, configuration string) (*BuildSettings, error) {
	output, err := h.runXcodebuild(
		"-project", projectPath,
		"-target", target,
		"-configuration", configuration,
		"-showBuildSettings",
		"-json",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get build settings: %w", err)
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse build settings: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no build settings found")
	}

	settings := &BuildSettings{Configuration: configuration, Settings: make(map[string]string)}

	if buildSettings, ok := raw[0]["buildSettings"].(map[string]interface{}); ok {
		for key, value := range buildSettings {
			if strValue, ok := value.(string); ok {
				settings.Settings[key] = strValue
			}
		}
	}

	settings.Platform = settings.Settings["PLATFORM_NAME"]
	settings.Arch = settings.Settings["ARCHS"]
	settings.SDK = settings.Settings["SDKROOT"]

	return settings, nil
}

// ResolveBuiltAppPath asks xcodebuild where a target's .app bundle will
// land, by joining CONFIGURATION_BUILD_DIR with FULL_PRODUCT_NAME. This is
// the richer output-path equivalent of AppBundleTarget.GetOutputInfo
// (which only has the bundle ID to report) — useful to a caller that wants
// to open, codesign-check, or otherwise act on the actual built artifact.
func (h *XcodeHelper) ResolveBuiltAppPath(projectPath, target, configuration string) (string, error) {
	settings, err := h.GetBuildSettings(projectPath, target, configuration)
	if err != nil {
		return "", err
	}

	buildDir := settings.Settings["CONFIGURATION_BUILD_DIR"]
	productName := settings.Settings["FULL_PRODUCT_NAME"]
	if buildDir == "" || productName == "" {
		return "", fmt.Errorf("build settings for %s missing CONFIGURATION_BUILD_DIR/FULL_PRODUCT_NAME", target)
	}

	return filepath.Join(buildDir, productName), nil
}

// ValidateProject checks that projectPath looks like an Xcode project,
// exists on disk, and that xcodebuild is actually available to build it.
func (h *XcodeHelper) ValidateProject(projectPath string) error {
	if !strings.HasSuffix(projectPath, ".xcodeproj") && !strings.HasSuffix(projectPath, ".xcworkspace") {
		return fmt.Errorf("invalid Xcode project path: %s", projectPath)
	}

	fullPath := filepath.Join(h.projectRoot, projectPath)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("Xcode project not found: %s", fullPath)
	}

	if !IsXcodeAvailable() {
		return fmt.Errorf("xcodebuild not found in PATH")
	}

	return nil
}

// GetRecommendedConfig scaffolds a Poltergeist configuration from whatever
// Xcode projects it can find under the helper's root, mapping each Xcode
// target type onto the matching Poltergeist target type.
func (h *XcodeHelper) GetRecommendedConfig() (*types.PoltergeistConfig, error) {
	projects, err := h.FindXcodeProjects()
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("no Xcode projects found")
	}

	config := &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectTypeSwift,
		Targets:     []json.RawMessage{},
	}

	for _, project := range projects {
		for _, xcodeTarget := range project.Targets {
			target := h.buildTargetConfig(project, xcodeTarget)
			targetJSON, err := json.Marshal(target)
			if err != nil {
				continue
			}
			config.Targets = append(config.Targets, targetJSON)
		}
	}

	return config, nil
}

// buildTargetConfig maps one discovered Xcode target onto its Poltergeist
// target-config equivalent.
func (h *XcodeHelper) buildTargetConfig(project XcodeProject, xcodeTarget XcodeTarget) interface{} {
	swiftWatchPaths := []string{"**/*.swift", "**/*.m", "**/*.h"}
	buildCommand := h.getBuildCommand(project.Path, xcodeTarget.Name, "Debug")

	switch xcodeTarget.Type {
	case "Application":
		return &types.AppBundleTarget{
			BaseTarget: types.BaseTarget{
				Name:         xcodeTarget.Name,
				Type:         types.TargetTypeAppBundle,
				WatchPaths:   append(swiftWatchPaths, "**/*.xib", "**/*.storyboard"),
				BuildCommand: buildCommand,
			},
			Platform:      xcodeTarget.Platform,
			BundleID:      xcodeTarget.BundleID,
			AutoRelaunch:  &[]bool{true}[0],
			LaunchCommand: h.getLaunchCommand(xcodeTarget),
		}

	case "Framework":
		return &types.FrameworkTarget{
			BaseTarget: types.BaseTarget{
				Name:         xcodeTarget.Name,
				Type:         types.TargetTypeFramework,
				WatchPaths:   swiftWatchPaths,
				BuildCommand: buildCommand,
			},
			Platform:   xcodeTarget.Platform,
			OutputPath: xcodeTarget.OutputPath,
		}

	case "Static Library", "Dynamic Library":
		libType := types.LibraryTypeStatic
		if xcodeTarget.Type == "Dynamic Library" {
			libType = types.LibraryTypeDynamic
		}
		return &types.LibraryTarget{
			BaseTarget: types.BaseTarget{
				Name:         xcodeTarget.Name,
				Type:         types.TargetTypeLibrary,
				WatchPaths:   swiftWatchPaths,
				BuildCommand: buildCommand,
			},
			LibraryType: libType,
			OutputPath:  xcodeTarget.OutputPath,
		}

	case "Unit Test Bundle":
		testCommand := h.getTestCommand(project.Path, xcodeTarget.Name)
		return &types.TestTarget{
			BaseTarget: types.BaseTarget{
				Name:         xcodeTarget.Name,
				Type:         types.TargetTypeTest,
				WatchPaths:   []string{"**/*Test*.swift", "**/*Spec*.swift", "**/*.swift"},
				BuildCommand: testCommand,
			},
			TestCommand: testCommand,
		}

	default:
		return &types.CustomTarget{
			BaseTarget: types.BaseTarget{
				Name:         xcodeTarget.Name,
				Type:         types.TargetTypeCustom,
				WatchPaths:   swiftWatchPaths,
				BuildCommand: buildCommand,
			},
		}
	}
}

func (h *XcodeHelper) analyzeProject(projectPath string) (*XcodeProject, error) {
	project := &XcodeProject{
		Path:    projectPath,
		Name:    h.getProjectName(projectPath),
		WorkDir: filepath.Dir(projectPath),
	}

	targets, err := h.getTargetsFromXcodebuild(projectPath)
	if err != nil {
		return nil, err
	}
	project.Targets = targets

	schemes, err := h.getSchemesFromXcodebuild(projectPath)
	if err != nil {
		return nil, err
	}
	project.Schemes = schemes

	return project, nil
}

func (h *XcodeHelper) getProjectName(projectPath string) string {
	name := filepath.Base(projectPath)
	if strings.HasSuffix(name, ".xcodeproj") {
		return name[:len(name)-len(".xcodeproj")]
	}
	if strings.HasSuffix(name, ".xcworkspace") {
		return name[:len(name)-len(".xcworkspace")]
	}
	return name
}

// projectOrWorkspaceArgs returns the "-project path" or "-workspace path"
// flag pair xcodebuild expects, depending on the bundle's extension.
func projectOrWorkspaceArgs(projectPath string) []string {
	if strings.HasSuffix(projectPath, ".xcworkspace") {
		return []string{"-workspace", projectPath}
	}
	return []string{"-project", projectPath}
}

func (h *XcodeHelper) getTargetsFromXcodebuild(projectPath string) ([]XcodeTarget, error) {
	args := append([]string{"-list", "-json"}, projectOrWorkspaceArgs(projectPath)...)

	output, err := h.runXcodebuild(args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	var listOutput struct {
		Project struct {
			Targets []string `json:"targets"`
		} `json:"project"`
	}
	if err := json.Unmarshal(output, &listOutput); err != nil {
		return nil, fmt.Errorf("failed to parse target list: %w", err)
	}

	targets := make([]XcodeTarget, 0, len(listOutput.Project.Targets))
	for _, targetName := range listOutput.Project.Targets {
		targets = append(targets, XcodeTarget{
			Name:     targetName,
			Type:     "Application", // xcodebuild -list doesn't report target type; refined by callers that need it
			Platform: types.PlatformMacOS,
		})
	}

	return targets, nil
}

func (h *XcodeHelper) getSchemesFromXcodebuild(projectPath string) ([]XcodeScheme, error) {
	args := append([]string{"-list", "-json"}, projectOrWorkspaceArgs(projectPath)...)

	output, err := h.runXcodebuild(args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemes: %w", err)
	}

	var listOutput struct {
		Project struct {
			Schemes []string `json:"schemes"`
		} `json:"project"`
	}
	if err := json.Unmarshal(output, &listOutput); err != nil {
		return nil, fmt.Errorf("failed to parse scheme list: %w", err)
	}

	schemes := make([]XcodeScheme, 0, len(listOutput.Project.Schemes))
	for _, schemeName := range listOutput.Project.Schemes {
		schemes = append(schemes, XcodeScheme{
			Name:        schemeName,
			Target:      schemeName, // often the same; xcodebuild -list doesn't pair them explicitly
			BuildConfig: "Debug",
			IsShared:    true,
		})
	}

	return schemes, nil
}

func (h *XcodeHelper) getBuildCommand(projectPath, target, configuration string) string {
	if strings.HasSuffix(projectPath, ".xcworkspace") {
		return fmt.Sprintf("xcodebuild -workspace %s -scheme %s -configuration %s build",
			projectPath, target, configuration)
	}
	return fmt.Sprintf("xcodebuild -project %s -target %s -configuration %s build",
		projectPath, target, configuration)
}

func (h *XcodeHelper) getTestCommand(projectPath, target string) string {
	if strings.HasSuffix(projectPath, ".xcworkspace") {
		return fmt.Sprintf("xcodebuild -workspace %s -scheme %s test", projectPath, target)
	}
	return fmt.Sprintf("xcodebuild -project %s -target %s test", projectPath, target)
}

func (h *XcodeHelper) getLaunchCommand(target XcodeTarget) string {
	if target.Platform == types.PlatformIOS {
		return fmt.Sprintf("xcrun simctl launch booted %s", target.BundleID)
	}
	if target.OutputPath != "" {
		return fmt.Sprintf("open %s", target.OutputPath)
	}
	return ""
}

// runXcodebuild runs xcodebuild with args from the helper's project root.
func (h *XcodeHelper) runXcodebuild(args ...string) ([]byte, error) {
	cmd := exec.Command("xcodebuild", args...)
	cmd.Dir = h.projectRoot
	return cmd.Output()
}

// IsXcodeAvailable reports whether xcodebuild is on PATH.
func IsXcodeAvailable() bool {
	_, err := exec.LookPath("xcodebuild")
	return err == nil
}

var xcodeVersionPattern = regexp.MustCompile(`Xcode\s+([0-9.]+)`)

// GetXcodeVersion returns the installed Xcode version, parsed from
// `xcodebuild -version`'s first line ("Xcode 14.2\nBuild version 14C18").
func GetXcodeVersion() (string, error) {
	output, err := exec.Command("xcodebuild", "-version").Output()
	if err != nil {
		return "", err
	}

	matches := xcodeVersionPattern.FindStringSubmatch(string(output))
	if len(matches) > 1 {
		return matches[1], nil
	}

	return "", fmt.Errorf("could not parse Xcode version from output: %s", string(output))
}

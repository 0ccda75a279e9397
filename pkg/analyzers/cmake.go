// Package analyzers provides build system analysis functionality
package analyzers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/poltergeist/poltergeist/pkg/types"
)

// CMakeAnalyzer scans a project tree's CMakeLists.txt files to discover
// buildable targets without invoking cmake itself — just enough static
// analysis to scaffold a Poltergeist configuration or validate one a user
// already wrote.
type CMakeAnalyzer struct {
	projectRoot string
}

// NewCMakeAnalyzer creates a new CMake analyzer rooted at projectRoot.
func NewCMakeAnalyzer(projectRoot string) *CMakeAnalyzer {
	return &CMakeAnalyzer{projectRoot: projectRoot}
}

// CMakeTarget is one add_executable/add_library/add_test discovered while
// scanning a CMakeLists.txt.
type CMakeTarget struct {
	Name         string
	Type         string
	Sources      []string
	Dependencies []string
	Properties   map[string]string
	Directory    string
}

// CMakeProject is the result of analyzing a project's CMake files.
type CMakeProject struct {
	Name         string
	Version      string
	Targets      []CMakeTarget
	Dependencies []string
	BuildDir     string
	Generator    string
	Variables    map[string]string
}

// AnalysisOptions configures CMake analysis.
type AnalysisOptions struct {
	IncludeTests    bool
	AnalyzeDeps     bool
	BuildDir        string
	Generator       string
	RecursiveSearch bool
}

// DefaultAnalysisOptions returns the analyzer's default scan settings:
// recursive search, tests included, an untyped "build" output directory.
func DefaultAnalysisOptions() *AnalysisOptions {
	return &AnalysisOptions{
		IncludeTests:    true,
		AnalyzeDeps:     true,
		BuildDir:        "build",
		RecursiveSearch: true,
	}
}

var (
	cmakeProjectNameRegex = regexp.MustCompile(`^\s*project\s*\(\s*([^)\s]+)`)
	cmakeVersionRegex     = regexp.MustCompile(`VERSION\s+([0-9.]+)`)
	cmakeTargetRegex      = regexp.MustCompile(`^\s*(add_executable|add_library)\s*\(\s*([^)\s]+)(?:\s+(STATIC|SHARED|MODULE|INTERFACE|OBJECT))?`)
	cmakeAddTestRegex     = regexp.MustCompile(`^\s*add_test\s*\(\s*(?:NAME\s+)?([^)\s]+)`)
)

// AnalyzeProject scans every CMakeLists.txt under the project root (or
// just the top-level one, with options.RecursiveSearch off) and returns
// the project name/version plus every discovered target.
func (a *CMakeAnalyzer) AnalyzeProject(options *AnalysisOptions) (*CMakeProject, error) {
	if options == nil {
		options = DefaultAnalysisOptions()
	}

	project := &CMakeProject{Variables: make(map[string]string)}

	cmakeFiles, err := a.findCMakeFiles(options.RecursiveSearch)
	if err != nil {
		return nil, fmt.Errorf("failed to find CMake files: %w", err)
	}
	if len(cmakeFiles) == 0 {
		return nil, fmt.Errorf("no CMakeLists.txt files found in project")
	}

	mainCMakeFile := filepath.Join(a.projectRoot, "CMakeLists.txt")
	if err := a.analyzeMainCMakeFile(mainCMakeFile, project); err != nil {
		return nil, fmt.Errorf("failed to analyze main CMakeLists.txt: %w", err)
	}

	for _, cmakeFile := range cmakeFiles {
		if err := a.analyzeCMakeFile(cmakeFile, project, options); err != nil {
			continue
		}
	}

	project.BuildDir = options.BuildDir
	project.Generator = options.Generator

	return project, nil
}

// FindTargets is a convenience wrapper returning just the discovered
// targets from AnalyzeProject.
func (a *CMakeAnalyzer) FindTargets(options *AnalysisOptions) ([]CMakeTarget, error) {
	project, err := a.AnalyzeProject(options)
	if err != nil {
		return nil, err
	}
	return project.Targets, nil
}

// ValidateTarget checks that a CMake executable target config has a
// non-empty target name, the project has a root CMakeLists.txt, and any
// explicit generator is one this analyzer recognizes. The target name is
// not looked up in the CMake files.
func (a *CMakeAnalyzer) ValidateTarget(target *types.CMakeExecutableTarget) error {
	if target.TargetName == "" {
		return fmt.Errorf("target name is required")
	}

	cmakeFile := filepath.Join(a.projectRoot, "CMakeLists.txt")
	if _, err := os.Stat(cmakeFile); os.IsNotExist(err) {
		return fmt.Errorf("CMakeLists.txt not found in project root")
	}

	if target.Generator != "" {
		if err := a.validateGenerator(target.Generator); err != nil {
			return fmt.Errorf("invalid generator: %w", err)
		}
	}

	return nil
}

// GetRecommendedConfig scaffolds a Poltergeist configuration from whatever
// CMake targets AnalyzeProject discovers, using DefaultAnalysisOptions.
func (a *CMakeAnalyzer) GetRecommendedConfig() (*types.PoltergeistConfig, error) {
	project, err := a.AnalyzeProject(DefaultAnalysisOptions())
	if err != nil {
		return nil, err
	}

	config := &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: types.ProjectTypeCMake,
		Targets:     []json.RawMessage{},
	}

	for _, cmakeTarget := range project.Targets {
		target := a.buildTargetConfig(cmakeTarget)
		targetJSON, err := json.Marshal(target)
		if err != nil {
			continue
		}
		config.Targets = append(config.Targets, targetJSON)
	}

	return config, nil
}

// buildTargetConfig maps one discovered CMakeTarget onto its Poltergeist
// target-config equivalent.
func (a *CMakeAnalyzer) buildTargetConfig(cmakeTarget CMakeTarget) interface{} {
	buildCommand := fmt.Sprintf("cmake --build build --target %s", cmakeTarget.Name)

	switch cmakeTarget.Type {
	case "EXECUTABLE":
		return &types.CMakeExecutableTarget{
			BaseTarget: types.BaseTarget{
				Name:         cmakeTarget.Name,
				Type:         types.TargetTypeCMakeExecutable,
				WatchPaths:   []string{"src/**/*.cpp", "src/**/*.h", "CMakeLists.txt"},
				BuildCommand: buildCommand,
			},
			TargetName: cmakeTarget.Name,
			BuildType:  types.CMakeBuildTypeDebug,
		}

	case "STATIC_LIBRARY", "SHARED_LIBRARY":
		libType := types.LibraryTypeStatic
		if cmakeTarget.Type == "SHARED_LIBRARY" {
			libType = types.LibraryTypeDynamic
		}
		return &types.CMakeLibraryTarget{
			BaseTarget: types.BaseTarget{
				Name:         cmakeTarget.Name,
				Type:         types.TargetTypeCMakeLibrary,
				WatchPaths:   []string{"src/**/*.cpp", "src/**/*.h", "CMakeLists.txt"},
				BuildCommand: buildCommand,
			},
			TargetName:  cmakeTarget.Name,
			LibraryType: libType,
			BuildType:   types.CMakeBuildTypeDebug,
		}

	default:
		return &types.CMakeCustomTarget{
			BaseTarget: types.BaseTarget{
				Name:         cmakeTarget.Name,
				Type:         types.TargetTypeCMakeCustom,
				WatchPaths:   []string{"**/*.cmake", "CMakeLists.txt"},
				BuildCommand: buildCommand,
			},
			TargetName: cmakeTarget.Name,
			BuildType:  types.CMakeBuildTypeDebug,
		}
	}
}

// findCMakeFiles locates CMakeLists.txt files under the project root,
// skipping build output and hidden directories when searching recursively.
func (a *CMakeAnalyzer) findCMakeFiles(recursive bool) ([]string, error) {
	if !recursive {
		cmakeFile := filepath.Join(a.projectRoot, "CMakeLists.txt")
		if _, err := os.Stat(cmakeFile); err == nil {
			return []string{cmakeFile}, nil
		}
		return nil, nil
	}

	var files []string
	err := filepath.Walk(a.projectRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Name() == "CMakeLists.txt" {
			files = append(files, path)
		}
		if info.IsDir() && (info.Name() == "build" || strings.HasPrefix(info.Name(), ".")) {
			return filepath.SkipDir
		}
		return nil
	})
	return files, err
}

// analyzeMainCMakeFile pulls the project name and (if present on the same
// line) version out of the top-level project() call.
func (a *CMakeAnalyzer) analyzeMainCMakeFile(path string, project *CMakeProject) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}

		matches := cmakeProjectNameRegex.FindStringSubmatch(line)
		if len(matches) <= 1 {
			continue
		}
		project.Name = matches[1]
		if versionMatches := cmakeVersionRegex.FindStringSubmatch(line); len(versionMatches) > 1 {
			project.Version = versionMatches[1]
		}
	}

	return scanner.Err()
}

// analyzeCMakeFile scans a single CMakeLists.txt for add_executable/
// add_library targets (classifying library kind from its STATIC/SHARED/
// MODULE/INTERFACE/OBJECT keyword) and, when options.IncludeTests is set,
// add_test entries.
func (a *CMakeAnalyzer) analyzeCMakeFile(path string, project *CMakeProject, options *AnalysisOptions) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	dir := filepath.Dir(path)
	relDir, _ := filepath.Rel(a.projectRoot, dir)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}

		if matches := cmakeTargetRegex.FindStringSubmatch(line); len(matches) > 2 {
			project.Targets = append(project.Targets, CMakeTarget{
				Name:       matches[2],
				Type:       classifyCMakeTargetType(matches[1], matches),
				Directory:  relDir,
				Properties: make(map[string]string),
			})
		}

		if options.IncludeTests {
			if matches := cmakeAddTestRegex.FindStringSubmatch(line); len(matches) > 1 {
				project.Targets = append(project.Targets, CMakeTarget{
					Name:       matches[1],
					Type:       "TEST",
					Directory:  relDir,
					Properties: make(map[string]string),
				})
			}
		}
	}

	return scanner.Err()
}

// classifyCMakeTargetType turns an add_executable/add_library match into
// one of EXECUTABLE/STATIC_LIBRARY/SHARED_LIBRARY/MODULE_LIBRARY/
// INTERFACE_LIBRARY/OBJECT_LIBRARY. CMake defaults an untyped add_library
// to STATIC (or whatever BUILD_SHARED_LIBS says, which this static scan
// can't evaluate, so STATIC is the documented fallback).
func classifyCMakeTargetType(cmd string, matches []string) string {
	if strings.ToUpper(cmd) != "add_library" && strings.ToUpper(cmd) != "ADD_LIBRARY" {
		return "EXECUTABLE"
	}

	if len(matches) <= 3 || matches[3] == "" {
		return "STATIC_LIBRARY"
	}

	switch strings.ToUpper(matches[3]) {
	case "SHARED":
		return "SHARED_LIBRARY"
	case "MODULE":
		return "MODULE_LIBRARY"
	case "INTERFACE":
		return "INTERFACE_LIBRARY"
	case "OBJECT":
		return "OBJECT_LIBRARY"
	default:
		return "STATIC_LIBRARY"
	}
}

func (a *CMakeAnalyzer) validateGenerator(generator string) error {
	validGenerators := []string{"Unix Makefiles", "Ninja", "Xcode", "Visual Studio"}

	for _, valid := range validGenerators {
		if strings.Contains(generator, valid) {
			return nil
		}
	}

	return fmt.Errorf("unsupported generator: %s", generator)
}

// GetBuildCommands returns the configure-then-build command pair for a
// discovered target at the given build type.
func (a *CMakeAnalyzer) GetBuildCommands(target CMakeTarget, buildType types.CMakeBuildType) []string {
	return []string{
		fmt.Sprintf("cmake -B build -DCMAKE_BUILD_TYPE=%s", buildType),
		fmt.Sprintf("cmake --build build --target %s", target.Name),
	}
}

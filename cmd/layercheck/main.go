// Command layercheck fails when a package imports across clean architecture
// layers in the wrong direction (domain <- services <- presentation,
// infrastructure).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/roblaszczak/go-cleanarch/cleanarch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type config struct {
	Root              string   `yaml:"root"`
	IgnoreTests       bool     `yaml:"ignore_tests"`
	IgnorePackages    []string `yaml:"ignore_packages"`
	SharedModules     []string `yaml:"shared_modules"`
	AllowedViolations []string `yaml:"allow_violations"`
	Layers            struct {
		Domain         []string `yaml:"domain"`
		Application    []string `yaml:"application"`
		Interfaces     []string `yaml:"interfaces"`
		Infrastructure []string `yaml:"infrastructure"`
	} `yaml:"layers"`
}

var defaultLayers = map[cleanarch.Layer][]string{
	cleanarch.LayerDomain:         {"domain"},
	cleanarch.LayerApplication:    {"services"},
	cleanarch.LayerInterfaces:     {"presentation", "controllers"},
	cleanarch.LayerInfrastructure: {"infrastructure"},
}

func main() {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:           "layercheck",
		Short:         "Check module packages against clean architecture layering",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			if debug {
				cleanarch.Log.SetOutput(os.Stderr)
			}
			violations, err := check(cfg)
			if err != nil {
				return err
			}
			for _, v := range violations {
				fmt.Fprintln(os.Stderr, v)
			}
			if len(violations) > 0 {
				return fmt.Errorf("%d layering violation(s)", len(violations))
			}
			fmt.Fprintln(os.Stdout, "layering ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", ".gocleanarch.yml", "Config file; missing means defaults")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable go-cleanarch debug logs")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func loadConfig(path string) (*config, error) {
	cfg := &config{Root: "modules", IgnoreTests: true}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Root == "" {
		cfg.Root = "modules"
	}
	return cfg, nil
}

func (c *config) aliases() map[string]cleanarch.Layer {
	custom := map[cleanarch.Layer][]string{
		cleanarch.LayerDomain:         c.Layers.Domain,
		cleanarch.LayerApplication:    c.Layers.Application,
		cleanarch.LayerInterfaces:     c.Layers.Interfaces,
		cleanarch.LayerInfrastructure: c.Layers.Infrastructure,
	}
	out := map[string]cleanarch.Layer{}
	for layer, defaults := range defaultLayers {
		names := defaults
		if len(custom[layer]) > 0 {
			names = custom[layer]
		}
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				out[name] = layer
			}
		}
	}
	return out
}

func check(cfg *config) ([]string, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	ok, errs, err := cleanarch.NewValidator(cfg.aliases()).Validate(root, cfg.IgnoreTests, cfg.IgnorePackages)
	if err != nil {
		return nil, fmt.Errorf("go-cleanarch: %w", err)
	}
	if ok {
		return nil, nil
	}
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Error())
	}
	return filterViolations(messages, cfg.SharedModules, cfg.AllowedViolations), nil
}

var crossModulePattern = regexp.MustCompile(`between ([\w-]+) and ([\w-]+) modules`)

// filterViolations drops cross-module violations that involve a shared
// module and any message containing an allowed pattern.
func filterViolations(messages, sharedModules, allowed []string) []string {
	shared := make(map[string]bool, len(sharedModules))
	for _, m := range sharedModules {
		if m = strings.TrimSpace(m); m != "" {
			shared[m] = true
		}
	}

	var out []string
next:
	for _, msg := range messages {
		if m := crossModulePattern.FindStringSubmatch(msg); len(m) == 3 && (shared[m[1]] || shared[m[2]]) {
			continue
		}
		for _, pattern := range allowed {
			if pattern != "" && strings.Contains(msg, pattern) {
				continue next
			}
		}
		out = append(out, msg)
	}
	return out
}

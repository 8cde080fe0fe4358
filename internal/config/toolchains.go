package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Toolchains represents the toolchain profiles stored in toolchains.toml.
// Profiles name the compiler under test so a sweep can switch between a
// distro nightly and a locally built stage1 without config edits.
type Toolchains struct {
	// Default is the profile used when no --toolchain flag is given
	Default string `toml:"default"`

	// Profiles maps profile name to its definition
	Profiles map[string]ToolchainProfile `toml:"toolchain"`
}

// ToolchainProfile describes one compiler under test
type ToolchainProfile struct {
	// Bin is the compiler binary path or name resolved via PATH
	Bin string `toml:"bin"`

	// Args are leading arguments placed before the source file
	// (e.g. a rustup toolchain selector like "+nightly")
	Args []string `toml:"args,omitempty"`

	// ProfdataTool is the llvm-profdata binary matching this compiler,
	// required when coverage merging is enabled
	ProfdataTool string `toml:"profdata,omitempty"`
}

// DefaultToolchains returns the built-in profile set
func DefaultToolchains() *Toolchains {
	return &Toolchains{
		Default: "nightly",
		Profiles: map[string]ToolchainProfile{
			"nightly": {
				Bin:  "rustc",
				Args: []string{"+nightly-x86_64-unknown-linux-gnu"},
			},
		},
	}
}

// LoadToolchains reads toolchain profiles from a TOML file.
// A missing file yields the defaults.
func LoadToolchains(path string) (*Toolchains, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultToolchains(), nil
	}

	var tc Toolchains
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if tc.Default == "" && len(tc.Profiles) == 1 {
		for name := range tc.Profiles {
			tc.Default = name
		}
	}

	return &tc, nil
}

// Resolve returns the named profile, or the default profile when name is empty.
func (t *Toolchains) Resolve(name string) (ToolchainProfile, error) {
	if name == "" {
		name = t.Default
	}
	profile, ok := t.Profiles[name]
	if !ok {
		return ToolchainProfile{}, fmt.Errorf("toolchain profile %q not defined", name)
	}
	if profile.Bin == "" {
		return ToolchainProfile{}, fmt.Errorf("toolchain profile %q has no bin", name)
	}
	return profile, nil
}

// Save writes the toolchain profiles to a TOML file
func (t *Toolchains) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(t)
}

package ipmigo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConnectionProfileFile is a named set of BMC connection profiles, loaded by
// cmd/ipmigo so a fleet's BMCs don't need their URIs typed out each run.
type ConnectionProfileFile struct {
	Default  string                       `yaml:"default"`
	Profiles map[string]ConnectionProfile `yaml:"profiles"`
}

type ConnectionProfile struct {
	URI           string `yaml:"uri"`
	Privilege     string `yaml:"privilege"`
	CipherSuiteID *uint  `yaml:"cipherSuiteID"`
	KGKey         string `yaml:"kgKey"`
}

// LoadConnectionProfiles reads a YAML profile file (see SPEC_FULL.md §6 for
// the schema).
func LoadConnectionProfiles(path string) (*ConnectionProfileFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	f := &ConnectionProfileFile{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Profile looks up a named profile, falling back to Default when name is empty.
func (f *ConnectionProfileFile) Profile(name string) (ConnectionProfile, error) {
	if name == "" {
		name = f.Default
	}
	p, ok := f.Profiles[name]
	if !ok {
		return ConnectionProfile{}, &ArgumentError{
			Value:   name,
			Message: "Unknown connection profile",
		}
	}
	return p, nil
}

var privilegeLevelNames = map[string]PrivilegeLevel{
	"callback":      PrivilegeCallback,
	"user":          PrivilegeUser,
	"operator":      PrivilegeOperator,
	"administrator": PrivilegeAdministrator,
}

// ParsePrivilegeLevel parses the lowercase privilege level names used in
// connection profiles and CLI flags.
func ParsePrivilegeLevel(s string) (PrivilegeLevel, error) {
	if s == "" {
		return 0, nil
	}
	if l, ok := privilegeLevelNames[s]; ok {
		return l, nil
	}
	return 0, &ArgumentError{
		Value:   s,
		Message: fmt.Sprintf("Unknown privilege level : %s", s),
	}
}

// Dial returns a Client for this profile (no session is opened yet), applying any caller-supplied options
// on top of the profile's own settings.
func (p ConnectionProfile) Dial(opts ...Option) (*Client, error) {
	l, err := ParsePrivilegeLevel(p.Privilege)
	if err != nil {
		return nil, err
	}

	profileOpts := make([]Option, 0, len(opts)+3)
	if l != 0 {
		profileOpts = append(profileOpts, WithPrivilege(l))
	}
	if p.CipherSuiteID != nil {
		profileOpts = append(profileOpts, WithCipherSuiteID(*p.CipherSuiteID))
	}
	if p.KGKey != "" {
		profileOpts = append(profileOpts, WithKGKey(p.KGKey))
	}
	profileOpts = append(profileOpts, opts...)

	return Dial(p.URI, profileOpts...)
}

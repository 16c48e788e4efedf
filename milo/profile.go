package milo

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Profile is a named SystemInfo.
type Profile struct {
	Name       string `yaml:"name"`
	SystemInfo `yaml:",inline"`
}

type profileFile struct {
	Profiles []*Profile `yaml:"profiles"`
}

var DefaultProfiles = []*Profile{
	{Name: "gh1-ps2", SystemInfo: SystemInfo{Version: 10, Platform: PlatformPS2, Endian: LittleEndian}},
	{Name: "gh2-ps2", SystemInfo: SystemInfo{Version: 24, Platform: PlatformPS2, Endian: LittleEndian}},
	{Name: "gh2-x360", SystemInfo: SystemInfo{Version: 25, Platform: PlatformX360, Endian: LittleEndian}},
	{Name: "tbrb-x360", SystemInfo: SystemInfo{Version: 25, Platform: PlatformX360, Endian: BigEndian}},
	{Name: "tbrb-ps3", SystemInfo: SystemInfo{Version: 25, Platform: PlatformPS3, Endian: BigEndian}},
	{Name: "tbrb-wii", SystemInfo: SystemInfo{Version: 25, Platform: PlatformWii, Endian: BigEndian}},
}

func ParseProfiles(data []byte) ([]*Profile, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for _, p := range f.Profiles {
		p.Endian = Endian(strings.ToLower(string(p.Endian)))
		p.Platform = Platform(strings.ToLower(string(p.Platform)))
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	return f.Profiles, nil
}

func LoadProfiles(path string) ([]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProfiles(data)
}

func SaveProfiles(path string, profiles []*Profile) error {
	data, err := yaml.Marshal(&profileFile{Profiles: profiles})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// FindProfile looks name up in profiles, then in DefaultProfiles.
func FindProfile(profiles []*Profile, name string) (*SystemInfo, error) {
	for _, list := range [][]*Profile{profiles, DefaultProfiles} {
		for _, p := range list {
			if strings.EqualFold(p.Name, name) {
				info := p.SystemInfo
				return &info, nil
			}
		}
	}
	return nil, fmt.Errorf("profile %q not found", name)
}

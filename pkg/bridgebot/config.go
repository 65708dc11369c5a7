// Copyright 2024-2026 Aiku AI

package bridgebot

import (
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the full bridge bot configuration.
type Config struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	// IgnoreUserPrefix is a Matrix user ID prefix for echo prevention.
	// Commands from senders whose user ID starts with this prefix are
	// ignored; bridged appservice ghosts would otherwise mirror Slack
	// commands back into the room. Leave empty to disable.
	IgnoreUserPrefix string `yaml:"ignore_user_prefix"`

	Slack    SlackConfig       `yaml:"slack"`
	Rooms    RoomConfig        `yaml:"rooms"`
	Database dbutil.Config     `yaml:"database"`
	Logging  zeroconfig.Config `yaml:"logging"`
}

// SlackConfig holds the Slack workspace credentials.
type SlackConfig struct {
	// BotToken is the xoxb- bot token used for API calls.
	BotToken string `yaml:"bot_token"`
	// AppToken is the xapp- app-level token used for Socket Mode.
	AppToken string `yaml:"app_token"`
	TeamID   string `yaml:"team_id"`
}

// RoomConfig controls how newly provisioned rooms are set up.
type RoomConfig struct {
	// MakePublic makes new Matrix rooms publicly joinable with
	// world-readable history.
	MakePublic bool `yaml:"make_public"`
	// RoomNameTemplate renders the Matrix room name from {{.Name}}.
	RoomNameTemplate string `yaml:"room_name_template"`
	// RoomAliasTemplates render full room aliases (#...:server) from
	// {{.Name}}. All rendered aliases are published for the new room.
	RoomAliasTemplates []string `yaml:"room_alias_templates"`
	RoomAvatarURL      string   `yaml:"room_avatar_url"`
	UsersToInvite      []string `yaml:"users_to_invite"`
	UsersAsAdmin       []string `yaml:"users_as_admin"`
	// AllowAtRoom lowers the @room notification power level to zero so
	// everyone can ping the room.
	AllowAtRoom bool `yaml:"allow_at_room"`
	// AnnouncementRoom is an optional Matrix room where every new room
	// pair is announced in addition to the command's origin room.
	AnnouncementRoom string `yaml:"announcement_room"`

	nameTemplate   *template.Template
	aliasTemplates []*template.Template
}

// roomNameParams holds the parameters for rendering name and alias templates.
type roomNameParams struct {
	Name string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess compiles the room name and alias templates.
func (c *Config) PostProcess() error {
	rc := &c.Rooms
	if rc.RoomNameTemplate != "" {
		var err error
		rc.nameTemplate, err = template.New("room_name").Parse(rc.RoomNameTemplate)
		if err != nil {
			return fmt.Errorf("invalid room_name_template: %w", err)
		}
	}
	rc.aliasTemplates = rc.aliasTemplates[:0]
	for i, tpl := range rc.RoomAliasTemplates {
		compiled, err := template.New(fmt.Sprintf("room_alias_%d", i)).Parse(tpl)
		if err != nil {
			return fmt.Errorf("invalid room_alias_templates entry %d: %w", i, err)
		}
		rc.aliasTemplates = append(rc.aliasTemplates, compiled)
	}
	return nil
}

// FormatRoomName renders the room name template, falling back to the raw
// name if no template is configured or rendering fails.
func (rc *RoomConfig) FormatRoomName(name string) string {
	if rc.nameTemplate == nil {
		return name
	}
	var buf []byte
	err := rc.nameTemplate.Execute((*templateBuffer)(&buf), roomNameParams{Name: name})
	if err != nil {
		return name
	}
	return string(buf)
}

// FormatAliases renders all configured alias templates for the given name.
// Templates that fail to render are skipped.
func (rc *RoomConfig) FormatAliases(name string) []string {
	aliases := make([]string, 0, len(rc.aliasTemplates))
	for _, tpl := range rc.aliasTemplates {
		var buf []byte
		if err := tpl.Execute((*templateBuffer)(&buf), roomNameParams{Name: name}); err != nil {
			continue
		}
		aliases = append(aliases, string(buf))
	}
	return aliases
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// LoadConfig reads and post-processes a config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

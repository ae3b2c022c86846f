package config

import (
	"fmt"
	"sort"
	"strings"

	ini "gopkg.in/ini.v1"

	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/sebas/softphone/internal/ua/session"
)

// Settings holds account and media configuration loaded from the account
// file.
type Settings struct {
	idURI     string
	registrar string
	username  string
	password  string
	realm     string
	expires   int

	playerFile   string
	recorderFile string

	codecs map[string]int

	logMaxSizeMB  int
	logMaxBackups int
	logMaxAgeDays int
	logCompress   bool
}

// LoadSettings reads the ini file at path.
func LoadSettings(path string) (*Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	return ParseSettings(cfg)
}

// ParseSettings reads settings from a loaded ini file and validates required
// fields.
func ParseSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{codecs: make(map[string]int)}

	sec := cfg.Section("account")
	s.idURI = sec.Key("id_uri").String()
	s.registrar = sec.Key("registrar").String()
	s.username = sec.Key("username").String()
	s.password = sec.Key("password").String()
	s.realm = sec.Key("realm").MustString("*")
	s.expires = sec.Key("expires").MustInt(300)

	s.playerFile = cfg.Section("player").Key("filename").String()
	s.recorderFile = cfg.Section("recorder").Key("filename").String()

	for _, key := range cfg.Section("codecs").Keys() {
		prio, err := key.Int()
		if err != nil || prio < 0 || prio > 255 {
			return nil, fmt.Errorf("codec %s: invalid priority %q", key.Name(), key.Value())
		}
		s.codecs[key.Name()] = prio
	}

	sec = cfg.Section("logging")
	s.logMaxSizeMB = sec.Key("max_size_mb").MustInt(100)
	s.logMaxBackups = sec.Key("max_backups").MustInt(3)
	s.logMaxAgeDays = sec.Key("max_age_days").MustInt(28)
	s.logCompress = sec.Key("compress").MustBool(false)

	if s.idURI == "" {
		return nil, fmt.Errorf("account id_uri must be set")
	}
	if !strings.HasPrefix(s.idURI, "sip:") && !strings.HasPrefix(s.idURI, "sips:") {
		return nil, fmt.Errorf("account id_uri %q is not a SIP URI", s.idURI)
	}
	return s, nil
}

func (s *Settings) IDURI() string     { return s.idURI }
func (s *Settings) Registrar() string { return s.registrar }
func (s *Settings) Expires() int      { return s.expires }

func (s *Settings) PlayerFile() string   { return s.playerFile }
func (s *Settings) RecorderFile() string { return s.recorderFile }

func (s *Settings) LogMaxSizeMB() int  { return s.logMaxSizeMB }
func (s *Settings) LogMaxBackups() int { return s.logMaxBackups }
func (s *Settings) LogMaxAgeDays() int { return s.logMaxAgeDays }
func (s *Settings) LogCompress() bool  { return s.logCompress }

// AccountConfig returns the account as an engine configuration. Credentials
// are set only when a username is configured.
func (s *Settings) AccountConfig() engine.AccountConfig {
	cfg := engine.AccountConfig{
		IDURI:     s.idURI,
		Registrar: s.registrar,
		Expires:   s.expires,
	}
	if s.username != "" {
		cfg.Credentials = []engine.Credentials{{
			Realm:    s.realm,
			Username: s.username,
			Password: s.password,
		}}
	}
	return cfg
}

// PlayerConfig returns the default media files for calls.
func (s *Settings) PlayerConfig() session.PlayerConfig {
	var cfg session.PlayerConfig
	if s.playerFile != "" {
		cfg.Player = &session.FileConfig{Filename: s.playerFile}
	}
	if s.recorderFile != "" {
		cfg.Recorder = &session.FileConfig{Filename: s.recorderFile}
	}
	return cfg
}

// CodecPriority is one [codecs] entry.
type CodecPriority struct {
	Codec    string
	Priority int
}

// CodecPriorities returns the [codecs] entries sorted by codec name.
func (s *Settings) CodecPriorities() []CodecPriority {
	out := make([]CodecPriority, 0, len(s.codecs))
	for name, prio := range s.codecs {
		out = append(out, CodecPriority{Codec: name, Priority: prio})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Codec < out[j].Codec })
	return out
}

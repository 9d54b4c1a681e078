// Package config loads orchestrator settings from an optional YAML file
// layered under RELEASE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ILLUVRSE/release-orchestrator/internal/promotion"
	"github.com/ILLUVRSE/release-orchestrator/internal/release"
)

const EnvPrefix = "RELEASE"

type Config struct {
	Project        ProjectConfig        `mapstructure:"project"`
	RepositoryType string               `mapstructure:"repository_type"`
	Dist           DistConfig           `mapstructure:"dist"`
	Nexus          NexusConfig          `mapstructure:"nexus"`
	Artifacts      []string             `mapstructure:"artifacts"`
	Modules        []ModuleConfig       `mapstructure:"modules"`
	Subfolders     []promotion.RuleSpec `mapstructure:"subfolders"`
	VoteTemplate   string               `mapstructure:"vote_template"`
	Concurrency    int                  `mapstructure:"concurrency"`
	State          StateConfig          `mapstructure:"state"`
	Audit          AuditConfig          `mapstructure:"audit"`
	Server         ServerConfig         `mapstructure:"server"`
	Log            LogConfig            `mapstructure:"log"`
}

type ProjectConfig struct {
	ID       string `mapstructure:"id"`
	Version  string `mapstructure:"version"`
	Tag      string `mapstructure:"tag"`
	CommitID string `mapstructure:"commit_id"`
	BuildDir string `mapstructure:"build_dir"`
}

type DistConfig struct {
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	SvnmuccPath   string `mapstructure:"svnmucc_path"`
	SvnPath       string `mapstructure:"svn_path"`
	StageFolder   string `mapstructure:"stage_folder"`
	ReleaseFolder string `mapstructure:"release_folder"`
}

type NexusConfig struct {
	URL              string        `mapstructure:"url"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	StagingProfileID string        `mapstructure:"staging_profile_id"`
	RepositoryName   string        `mapstructure:"repository_name"`
	Timeout          time.Duration `mapstructure:"timeout"`
	AwaitInterval    time.Duration `mapstructure:"await_interval"`
}

type ModuleConfig struct {
	Group    string   `mapstructure:"group"`
	Artifact string   `mapstructure:"artifact"`
	Version  string   `mapstructure:"version"`
	Files    []string `mapstructure:"files"`
}

type StateConfig struct {
	// Backend is one of memory, file or postgres.
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	DatabaseURL string `mapstructure:"database_url"`
}

type AuditConfig struct {
	Dir          string   `mapstructure:"dir"`
	SignerKeyB64 string   `mapstructure:"signer_key_b64"`
	SignerID     string   `mapstructure:"signer_id"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	S3Bucket     string   `mapstructure:"s3_bucket"`
	S3Prefix     string   `mapstructure:"s3_prefix"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads path when it is non-empty, then applies RELEASE_* variables
// (RELEASE_NEXUS_PASSWORD overrides nexus.password) and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, release.Configurationf("read config %s: %v", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, release.Configurationf("decode config: %v", err)
	}
	// AutomaticEnv does not split list values.
	if s := os.Getenv(EnvPrefix + "_AUDIT_KAFKA_BROKERS"); s != "" {
		cfg.Audit.KafkaBrokers = strings.Split(s, ",")
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	for _, key := range []string{
		"project.id", "project.version", "project.tag", "project.commit_id",
		"dist.url", "dist.username", "dist.password", "dist.stage_folder", "dist.release_folder",
		"nexus.url", "nexus.username", "nexus.password", "nexus.staging_profile_id",
		"vote_template", "state.dir", "state.database_url",
		"audit.dir", "audit.signer_key_b64", "audit.kafka_topic", "audit.s3_bucket", "audit.s3_prefix",
		"server.jwt_secret",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("project.build_dir", "build")
	v.SetDefault("repository_type", string(release.RepositoryTest))
	v.SetDefault("dist.svnmucc_path", "svnmucc")
	v.SetDefault("dist.svn_path", "svn")
	v.SetDefault("nexus.repository_name", "nexus")
	v.SetDefault("nexus.timeout", 5*time.Minute)
	v.SetDefault("nexus.await_interval", 0)
	v.SetDefault("concurrency", 2)
	v.SetDefault("state.backend", "file")
	v.SetDefault("audit.signer_id", "release-orchestrator")
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c *Config) applyDefaults() error {
	rt, err := release.ParseRepositoryType(c.RepositoryType)
	if err != nil {
		return err
	}
	c.RepositoryType = string(rt)
	if c.Dist.URL == "" {
		c.Dist.URL = rt.DefaultDistURL()
	}
	if c.Nexus.URL == "" {
		c.Nexus.URL = rt.DefaultNexusURL()
	}
	if c.Nexus.StagingProfileID == "" && rt == release.RepositoryTest {
		c.Nexus.StagingProfileID = "local"
	}
	if c.State.Dir == "" {
		c.State.Dir = filepath.Join(c.Project.BuildDir, "releaseState")
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = filepath.Join(c.Project.BuildDir, "audit")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	return nil
}

// Type is the parsed repository type.
func (c *Config) Type() release.RepositoryType {
	return release.RepositoryType(c.RepositoryType)
}

// Validate checks what the release commands need.
func (c *Config) Validate() error {
	var missing []string
	if c.Project.ID == "" {
		missing = append(missing, "project.id")
	}
	if c.Project.Version == "" {
		missing = append(missing, "project.version")
	}
	if c.Type() == release.RepositoryProd {
		if c.Nexus.Username == "" || c.Nexus.Password == "" {
			missing = append(missing, "nexus.username/nexus.password")
		}
		if c.Nexus.StagingProfileID == "" {
			missing = append(missing, "nexus.staging_profile_id")
		}
	}
	if len(missing) > 0 {
		return release.Configurationf("missing configuration: %s", strings.Join(missing, ", "))
	}
	switch c.State.Backend {
	case "memory", "file":
	case "postgres":
		if c.State.DatabaseURL == "" {
			return release.Configurationf("state.database_url required for the postgres backend")
		}
	default:
		return release.Configurationf("unknown state backend %q", c.State.Backend)
	}
	if _, err := promotion.ParseRules(c.Subfolders); err != nil {
		return err
	}
	for i, m := range c.Modules {
		if m.Group == "" || m.Artifact == "" {
			return release.Configurationf("module %d: group and artifact required", i)
		}
	}
	return nil
}

// Rules returns the configured subfolder rules, or the defaults.
func (c *Config) Rules() (promotion.Rules, error) {
	if len(c.Subfolders) == 0 {
		return promotion.DefaultRules(), nil
	}
	return promotion.ParseRules(c.Subfolders)
}

func (c *Config) String() string {
	return fmt.Sprintf("project=%s version=%s type=%s dist=%s nexus=%s", c.Project.ID, c.Project.Version, c.RepositoryType, c.Dist.URL, c.Nexus.URL)
}

// Package config is the worker's configuration, loaded through the shared
// base+env YAML loader.
package config

import (
	"errors"
	"fmt"
	"time"

	"mailpilot/internal/agentclient"
	"mailpilot/internal/model"
	"mailpilot/internal/policy"
	"mailpilot/internal/query"
	"mailpilot/pkg/config"
	"mailpilot/pkg/util"
)

const (
	StoreDriverPostgres      = "postgres"
	StoreDriverElasticsearch = "elasticsearch"

	ReplyTransportMQ  = "mq"
	ReplyTransportSES = "ses"
)

type MailboxConfig struct {
	BaseURL      string           `yaml:"base_url"`
	Timeout      time.Duration    `yaml:"timeout"`
	PollInterval time.Duration    `yaml:"poll_interval"`
	Concurrency  int              `yaml:"concurrency"`
	Retry        util.RetryPolicy `yaml:"retry"`
}

type PolicyConfig struct {
	Thresholds      policy.Thresholds `yaml:"thresholds"`
	SendFloor       float64           `yaml:"send_floor"`
	ClassifyTimeout time.Duration     `yaml:"classify_timeout"`
	ToolTimeout     time.Duration     `yaml:"tool_timeout"`
	// Templates are canned replies per category for the template tool.
	Templates          map[string]string `yaml:"templates"`
	TemplateConfidence float64           `yaml:"template_confidence"`
	DraftWeight        float64           `yaml:"draft_weight"`
}

type QueryConfig struct {
	StoreDriver string           `yaml:"store_driver"`
	MaxLimit    int              `yaml:"max_limit"`
	Retry       util.RetryPolicy `yaml:"retry"`
	// Schema replaces the built-in collections when it declares any.
	Schema query.Schema `yaml:"schema"`
}

type DirectiveConfig struct {
	Prefixes          []string `yaml:"prefixes"`
	AuthorizedSenders []string `yaml:"authorized_senders"`
}

type ConsumerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	MaxRetries int    `yaml:"max_retries"`
}

type ReplyConfig struct {
	Transport string `yaml:"transport"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type LockConfig struct {
	Distributed bool          `yaml:"distributed"`
	TTL         time.Duration `yaml:"ttl"`
}

// CorrespondentConfig seeds a known sender and its trust tier at startup.
type CorrespondentConfig struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
	Trust string `yaml:"trust"`
}

type Config struct {
	Log           config.LogConfig           `yaml:"log"`
	DB            config.DBConfig            `yaml:"db"`
	MQ            config.MQConfig            `yaml:"mq"`
	Redis         config.RedisConfig         `yaml:"redis"`
	Server        config.ServerConfig        `yaml:"server"`
	Elasticsearch config.ElasticsearchConfig `yaml:"elasticsearch"`
	AWS           config.AWSConfig           `yaml:"aws"`
	Agent         agentclient.Config         `yaml:"agent"`
	Mailbox       MailboxConfig              `yaml:"mailbox"`
	Policy        PolicyConfig               `yaml:"policy"`
	Query         QueryConfig                `yaml:"query"`
	Directives    DirectiveConfig            `yaml:"directives"`
	Consumer      ConsumerConfig             `yaml:"consumer"`
	Reply         ReplyConfig                `yaml:"reply"`
	Outbox        OutboxConfig               `yaml:"outbox"`
	Lock          LockConfig                 `yaml:"lock"`

	Correspondents []CorrespondentConfig `yaml:"correspondents"`
}

// Load reads config/<env>.yaml over config/base.yaml and applies
// environment overrides.
func Load(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := config.Decode(cfgMap, cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideElasticsearchFromEnv(&cfg.Elasticsearch)
	config.OverrideAWSFromEnv(&cfg.AWS)
	if url := config.GetEnv("AGENT_SERVICE_URL", ""); url != "" {
		cfg.Agent.BaseURL = url
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Defaults returns the values used for keys the YAML files leave out.
func Defaults() *Config {
	return &Config{
		Log:    config.LogConfig{Level: "info"},
		Server: config.ServerConfig{Port: ":8080"},
		Agent:  agentclient.Config{Timeout: 30 * time.Second},
		Mailbox: MailboxConfig{
			Timeout:      15 * time.Second,
			PollInterval: 30 * time.Second,
			Concurrency:  4,
			Retry:        util.DefaultRetryPolicy(),
		},
		Policy: PolicyConfig{
			Thresholds:         policy.DefaultThresholds(),
			SendFloor:          0.8,
			ClassifyTimeout:    30 * time.Second,
			ToolTimeout:        20 * time.Second,
			TemplateConfidence: 0.75,
			DraftWeight:        0.9,
		},
		Query: QueryConfig{
			StoreDriver: StoreDriverPostgres,
			MaxLimit:    50,
			Retry:       util.DefaultRetryPolicy(),
		},
		Consumer: ConsumerConfig{Queue: "email.received.worker.q", Prefetch: 8, MaxRetries: 5},
		Reply:    ReplyConfig{Transport: ReplyTransportMQ},
		Outbox:   OutboxConfig{Interval: 2 * time.Second, BatchSize: 50, MaxRetries: 5},
		Lock:     LockConfig{TTL: 2 * time.Minute},
	}
}

// QuerySchema is the configured schema or the built-in one.
func (c *Config) QuerySchema() query.Schema {
	if len(c.Query.Schema.Collections) > 0 {
		return c.Query.Schema
	}
	return query.DefaultSchema()
}

func (c *Config) Validate() error {
	var errs []error
	if c.Agent.BaseURL == "" {
		errs = append(errs, errors.New("agent.base_url is required"))
	}
	if err := c.Policy.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policy.thresholds: %w", err))
	}
	if c.Policy.SendFloor < 0 || c.Policy.SendFloor > 1 {
		errs = append(errs, fmt.Errorf("policy.send_floor %.2f outside [0,1]", c.Policy.SendFloor))
	}
	if err := c.QuerySchema().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query.schema: %w", err))
	}
	if c.Query.MaxLimit <= 0 {
		errs = append(errs, errors.New("query.max_limit must be positive"))
	}
	switch c.Query.StoreDriver {
	case StoreDriverPostgres:
	case StoreDriverElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 {
			errs = append(errs, errors.New("elasticsearch.addresses is required for the elasticsearch store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown query.store_driver %q", c.Query.StoreDriver))
	}
	switch c.Reply.Transport {
	case ReplyTransportMQ:
	case ReplyTransportSES:
		if c.AWS.Region == "" || c.AWS.FromEmail == "" {
			errs = append(errs, errors.New("aws.region and aws.from_email are required for the ses transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown reply.transport %q", c.Reply.Transport))
	}
	for _, corr := range c.Correspondents {
		if corr.Email == "" {
			errs = append(errs, errors.New("correspondents: email is required"))
		}
		if model.ParseSenderTrust(corr.Trust) == model.TrustUnknown && corr.Trust != string(model.TrustUnknown) {
			errs = append(errs, fmt.Errorf("correspondents: %s has unknown trust %q", corr.Email, corr.Trust))
		}
	}
	return errors.Join(errs...)
}

package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"moff.io/moff-wallet/pkg/errors"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

func (c *DBCredential) Dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s",
		c.Address, c.Port, c.User, c.Password, c.Database)
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Configuration struct
type Configuration struct {
	LogLevel         string        `yaml:"log_level"`
	HTTP             HTTP          `yaml:"http"`
	WalletConnect    WalletConnect `yaml:"wallet_connect"`
	SessionStore     SessionStore  `yaml:"session_store"`
	Kafka            Kafka         `yaml:"kafka"`
	SQS              SQS           `yaml:"sqs"`
	Secrets          Secrets       `yaml:"secrets"`
	SentryDSN        string        `yaml:"sentry_dsn"`
	LarkAlarmWebhook string        `yaml:"lark_alarm_webhook"`
	// ReportSilent is the minimum gap between two reports of the same call site.
	ReportSilent time.Duration `yaml:"report_silent"`
}

type HTTP struct {
	Listen string `yaml:"listen"`
	// RateLimitPerMinute applies per client ip when the session store runs on redis; zero disables it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type WalletConnect struct {
	// Bridge empty picks a public bridge at random.
	Bridge           string        `yaml:"bridge"`
	Description      string        `yaml:"description"`
	URL              string        `yaml:"url"`
	Icons            []string      `yaml:"icons"`
	Name             string        `yaml:"name"`
	ChainID          uint64        `yaml:"chain_id"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	PublishPerSecond int           `yaml:"publish_per_second"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverS3       = "s3"
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

type SessionStore struct {
	Driver string `yaml:"driver"`
	// Key names the saved session in every driver.
	Key string `yaml:"key"`
	// Path is the file driver's directory.
	Path       string        `yaml:"path"`
	TTL        time.Duration `yaml:"ttl"`
	Redis      DBCredential  `yaml:"redis"`
	Postgres   DBCredential  `yaml:"postgres"`
	SqlitePath string        `yaml:"sqlite_path"`
	AwsS3      aws           `yaml:"aws"`
}

type Kafka struct {
	// Servers is a comma separated broker list; empty disables event publishing.
	Servers string `yaml:"servers"`
	Topic   string `yaml:"topic"`
}

func (k Kafka) Brokers() []string {
	var brokers []string
	for _, s := range strings.Split(k.Servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			brokers = append(brokers, s)
		}
	}
	return brokers
}

// SQS receives session events too when QueueURL is set.
// Topic travels as the "topic" message attribute.
type SQS struct {
	Region   string `yaml:"region"`
	QueueURL string `yaml:"queue_url"`
	Topic    string `yaml:"topic"`
}

// Secrets names SSM parameters that override the plain values at startup.
// Empty SSMRegion disables the lookup.
type Secrets struct {
	SSMRegion        string `yaml:"ssm_region"`
	SentryDSN        string `yaml:"sentry_dsn"`
	LarkAlarmWebhook string `yaml:"lark_alarm_webhook"`
	PostgresPassword string `yaml:"postgres_password"`
}

// aws conf
type aws struct {
	Bucket awsBucket `yaml:"bucket"`
}

type awsBucket struct {
	Name   string `yaml:"name"`
	Region string `yaml:"region"`
}

func (a aws) BucketName() string {
	return a.Bucket.Name
}

func (a aws) Region() string {
	return a.Bucket.Region
}

func (c *Configuration) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = "127.0.0.1:8080"
	}
	if c.WalletConnect.Name == "" {
		c.WalletConnect.Name = "moff"
	}
	if c.WalletConnect.RequestTimeout <= 0 {
		c.WalletConnect.RequestTimeout = 5 * time.Minute
	}
	if c.WalletConnect.PingInterval <= 0 {
		c.WalletConnect.PingInterval = 15 * time.Second
	}
	if c.SessionStore.Driver == "" {
		c.SessionStore.Driver = DriverFile
	}
	if c.SessionStore.Key == "" {
		c.SessionStore.Key = "sessioninfo.json"
	}
	if c.SessionStore.Path == "" {
		c.SessionStore.Path = "."
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "wallet_session_events"
	}
	if c.SQS.Topic == "" {
		c.SQS.Topic = "wallet_session_events"
	}
	if c.ReportSilent <= 0 {
		c.ReportSilent = time.Minute
	}
}

func (c *Configuration) validate() error {
	switch c.SessionStore.Driver {
	case DriverFile, DriverMemory, DriverRedis, DriverS3, DriverPostgres, DriverSqlite:
	default:
		return errors.Errorf("unknown session store driver %q", c.SessionStore.Driver)
	}
	if c.SessionStore.Driver == DriverS3 && (c.SessionStore.AwsS3.BucketName() == "" || c.SessionStore.AwsS3.Region() == "") {
		return errors.New("s3 bucket or region not present")
	}
	if c.SessionStore.Driver == DriverSqlite && c.SessionStore.SqlitePath == "" {
		return errors.New("sqlite_path not present")
	}
	if c.SQS.QueueURL != "" && c.SQS.Region == "" {
		return errors.New("sqs region not present")
	}
	return nil
}

// Parse decodes a yaml document and fills the defaults.
func Parse(data []byte) (*Configuration, error) {
	t := Configuration{}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	t.applyDefaults()
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Configuration, error) {
	logrus.Info("Starting to load configuration file ...")
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("file %s does not exist", path)
		}
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(dat)
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := Load(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = globalConfig
}

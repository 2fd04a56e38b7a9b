// Package config loads Control Tower's runtime configuration the way the
// rest of this codebase's ancestry always has: a struct of options tagged
// with mapstructure/default/description, bound to pflag flags by
// reflection and merged with an optional YAML file via viper.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MetadataDir holds the working directory Control Tower uses for its
// config file and any other on-disk state. Relative paths are anchored
// to the current working directory in configureMetadataDir.
var MetadataDir = ".controltower_meta"

// TowerConfig is the full set of options a Control Tower process accepts,
// whether from a config file, a flag, or a built-in default.
type TowerConfig struct {
	Host string `mapstructure:"host" default:"0.0.0.0" description:"the host address to bind to"`
	Port int    `mapstructure:"port" default:"7677" description:"the port to bind to"`

	LogLevel    string `mapstructure:"log-level" default:"info" description:"the log level"`
	LogTags     string `mapstructure:"log-tags" default:"" description:"comma separated verbose log tags to enable at startup"`
	Debug       bool   `mapstructure:"debug" default:"false" description:"panic on InternalError instead of logging and dropping the triggering event"`
	MetricsOn   bool   `mapstructure:"metrics" default:"true" description:"expose a /metrics endpoint"`
	MetricsAddr string `mapstructure:"metrics-addr" default:":9477" description:"address the /metrics endpoint listens on"`
	PprofOn     bool   `mapstructure:"pprof" default:"false" description:"expose a /debug/pprof endpoint"`

	LogDir           string `mapstructure:"log-dir" default:"logs" description:"directory the reference file-backed Log Tailer stores its per-log append logs in"`
	RetentionRecords int    `mapstructure:"retention-records" default:"0" description:"records retained per log by the reference Log Tailer before reporting a DataLoss gap; 0 means unlimited"`

	MaxSubscriptionLag       uint64 `mapstructure:"max-subscription-lag" default:"10000" description:"seqno distance past which a lagging topic is bumped with a benign gap"`
	ReadersPerRoom           int    `mapstructure:"readers-per-room" default:"2" description:"size of the LogReader pool per room"`
	MinReaderRestartDuration int    `mapstructure:"min-reader-restart-duration-sec" default:"30" description:"lower bound, in seconds, of the periodic reader rotation interval"`
	MaxReaderRestartDuration int    `mapstructure:"max-reader-restart-duration-sec" default:"60" description:"upper bound, in seconds, of the periodic reader rotation interval"`
	StorageToRoomQueueSize   int    `mapstructure:"storage-to-room-queue-size" default:"1000" description:"bounded command queue size for a room"`

	CacheSize                     int64  `mapstructure:"cache-size" default:"0" description:"data cache byte budget; 0 disables the cache"`
	CacheBlockSize                int    `mapstructure:"cache-block-size" default:"1024" description:"records per cache block"`
	BloomBitsPerMsg               int    `mapstructure:"bloom-bits-per-msg" default:"10" description:"bloom filter density per message"`
	CacheDataFromSystemNamespaces bool   `mapstructure:"cache-data-from-system-namespaces" default:"false" description:"include reserved namespaces in the data cache"`
	CacheMirrorAddr               string `mapstructure:"cache-mirror-addr" default:"" description:"optional Redis address to mirror sealed cache block metadata to, for external inspection; empty disables it"`

	MaxFindTimeRequests int `mapstructure:"max-find-time-requests" default:"100" description:"FindLatestSeqno calls issued per second (token bucket, burst of the same size); calls awaiting a response are not counted"`
	TimerIntervalMillis int `mapstructure:"timer-interval-ms" default:"100" description:"room Tick period in milliseconds"`

	BackpressureWarnAfterMillis int `mapstructure:"backpressure-warn-after-ms" default:"5000" description:"how long a source may sit stalled on a full sink before a warning is logged"`
	NumLogs                     int `mapstructure:"num-logs" default:"16" description:"number of distinct logs topics are hashed across"`
	RoomCount                   int `mapstructure:"room-count" default:"1" description:"number of rooms to shard logs across; this reference binary runs a single room regardless"`
}

// Config is the process-wide configuration, populated by Load.
var Config *TowerConfig

func init() {
	if Config == nil {
		Config = initDefaultConfig()
	}
}

// Load merges defaults, an optional controltower.yaml found under
// MetadataDir, and whatever flags the caller actually set, in that order
// of increasing precedence.
func Load(flags *pflag.FlagSet) {
	configureMetadataDir()

	viper.SetConfigType("yaml")
	viper.AddConfigPath(MetadataDir)
	viper.SetConfigName("controltower")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Name == "help" {
			return
		}
		if flag.Changed || !viper.IsSet(flag.Name) {
			viper.Set(flag.Name, flag.Value.String())
		}
	})

	if err := viper.Unmarshal(&Config); err != nil {
		panic(err)
	}

	if Config.ReadersPerRoom <= 0 {
		Config.ReadersPerRoom = 2
	}
	if Config.MaxReaderRestartDuration < Config.MinReaderRestartDuration {
		Config.MaxReaderRestartDuration = Config.MinReaderRestartDuration
	}
}

// InitConfig writes the merged configuration out to controltower.yaml
// under MetadataDir, creating it if absent or overwriting it if
// overwrite is set on flags.
func InitConfig(flags *pflag.FlagSet) {
	Load(flags)
	configPath := filepath.Join(MetadataDir, "controltower.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := viper.WriteConfigAs(configPath); err != nil {
			slog.Error("could not write config file", slog.String("path", configPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("config created", slog.String("path", configPath))
		return
	}
	overwrite, _ := flags.GetBool("overwrite")
	if !overwrite {
		slog.Info("config already exists, skipping", slog.String("path", configPath))
		return
	}
	if err := viper.WriteConfigAs(configPath); err != nil {
		slog.Error("could not write config file", slog.String("path", configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("config overwritten", slog.String("path", configPath))
}

func configureMetadataDir() {
	if !filepath.IsAbs(MetadataDir) {
		cwd, _ := os.Getwd()
		MetadataDir = filepath.Join(cwd, MetadataDir)
	}
	if err := os.MkdirAll(MetadataDir, 0o700); err != nil {
		fmt.Printf("could not create metadata directory at %s: %s\n", MetadataDir, err)
		fmt.Println("using current directory as metadata directory")
		MetadataDir = "."
	}
}

func initDefaultConfig() *TowerConfig {
	cfg := &TowerConfig{}
	t := reflect.TypeOf(*cfg)
	v := reflect.ValueOf(cfg).Elem()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("default")
		if tag == "" {
			continue
		}
		field := v.Field(i)
		switch field.Kind() {
		case reflect.String:
			field.SetString(tag)
		case reflect.Int, reflect.Int64:
			var n int64
			if _, err := fmt.Sscanf(tag, "%d", &n); err == nil {
				field.SetInt(n)
			}
		case reflect.Uint64:
			var n uint64
			if _, err := fmt.Sscanf(tag, "%d", &n); err == nil {
				field.SetUint(n)
			}
		case reflect.Bool:
			var b bool
			if _, err := fmt.Sscanf(tag, "%t", &b); err == nil {
				field.SetBool(b)
			}
		}
	}
	return cfg
}

package config

import (
	"reflect"
	"strconv"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// flagsFromTags mirrors cmd/root.go's reflection-driven flag registration,
// so a test here exercises the same registration idiom a real run uses
// rather than just initDefaultConfig's separate reflection path.
func flagsFromTags(t *testing.T) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c := TowerConfig{}
	rt := reflect.TypeOf(c)
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		name := field.Tag.Get("mapstructure")
		desc := field.Tag.Get("description")
		def := field.Tag.Get("default")

		switch field.Type.Kind() {
		case reflect.String:
			flags.String(name, def, desc)
		case reflect.Int, reflect.Int64:
			val, _ := strconv.ParseInt(def, 10, 64)
			flags.Int64(name, val, desc)
		case reflect.Uint64:
			val, _ := strconv.ParseUint(def, 10, 64)
			flags.Uint64(name, val, desc)
		case reflect.Bool:
			val, _ := strconv.ParseBool(def)
			flags.Bool(name, val, desc)
		}
	}
	return flags
}

func TestInitDefaultConfigParsesEveryFieldKind(t *testing.T) {
	cfg := initDefaultConfig()

	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, 7677, cfg.Port)
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.Debug)
	require.True(t, cfg.MetricsOn)
	require.Equal(t, uint64(10000), cfg.MaxSubscriptionLag)
	require.Equal(t, int64(0), cfg.CacheSize)
	require.Equal(t, 2, cfg.ReadersPerRoom)
	require.Equal(t, 30, cfg.MinReaderRestartDuration)
	require.Equal(t, 60, cfg.MaxReaderRestartDuration)
}

func TestPackageLevelConfigIsNeverNil(t *testing.T) {
	require.NotNil(t, Config)
}

// TestLoadRegistersEveryFieldKindIncludingUint64 guards against a field
// kind being left out of the pflag-registration switch: if a kind has no
// case, its flag is never registered, so FlagSet.VisitAll in Load simply
// never visits it and the field silently keeps mapstructure's zero value
// instead of the documented default, with nothing to surface the gap
// short of a real run.
func TestLoadRegistersEveryFieldKindIncludingUint64(t *testing.T) {
	prevDir := MetadataDir
	MetadataDir = t.TempDir()
	defer func() { MetadataDir = prevDir }()

	flags := flagsFromTags(t)
	Load(flags)

	require.Equal(t, uint64(10000), Config.MaxSubscriptionLag, "max-subscription-lag must load from its registered flag default, not fall through to tower.Config.withDefaults by luck")
	require.Equal(t, "0.0.0.0", Config.Host)
	require.Equal(t, 7677, Config.Port)
	require.Equal(t, int64(0), Config.CacheSize)
}

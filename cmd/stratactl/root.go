package main

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/strata/kv"
	"github.com/jacentio/strata/kv/dynastore"
	"github.com/jacentio/strata/kv/memstore"
	"github.com/jacentio/strata/kv/redisstore"
	"github.com/jacentio/strata/persist"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stratactl",
		Short: "Inspect and mutate records in a strata-managed store",
		Long: "stratactl fetches, writes and deletes single documents against a " +
			"strata backend. Configuration can be given as flags or as " +
			"environment variables with the STRATA_ prefix (e.g. " +
			"STRATA_REDIS_ADDR=localhost:6379).",
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	pf := cmd.PersistentFlags()
	pf.String("backend", "redis", "store backend: redis, dynamo or memory")
	pf.String("namespace", "strata", "store namespace")
	pf.String("set", "", "document set (collection) name")
	pf.Bool("no-preserve-types", false, "convert every id to its string form when building keys")
	pf.String("redis-addr", "localhost:6379", "redis server address")
	pf.String("redis-password", "", "redis password")
	pf.Int("redis-db", 0, "redis database number")
	pf.String("dynamo-table", "strata_records", "dynamodb table name")
	_ = viper.BindPFlags(pf)

	cmd.AddCommand(getCmd(), putCmd(), delCmd(), existsCmd())
	return cmd
}

// initConfig loads env files and binds STRATA_* environment variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("strata")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// newTemplate builds the engine over the configured backend.
func newTemplate(ctx context.Context) (*persist.Template, func() error, error) {
	var client kv.Client
	switch backend := viper.GetString("backend"); backend {
	case "memory":
		client = memstore.New()
	case "redis":
		store := redisstore.New(redisstore.Options{
			Address:  viper.GetString("redis-addr"),
			Password: viper.GetString("redis-password"),
			DB:       viper.GetInt("redis-db"),
		})
		if err := store.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("redis at %s: %w", viper.GetString("redis-addr"), err)
		}
		client = store
	case "dynamo":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client = dynastore.New(dynamodb.NewFromConfig(cfg), dynastore.Options{
			Table: viper.GetString("dynamo-table"),
		})
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}

	config := persist.DefaultConfig()
	config.Namespace = viper.GetString("namespace")
	config.PreserveKeyTypes = !viper.GetBool("no-preserve-types")

	return persist.New(client, persist.MapConverter{}, config), client.Close, nil
}

// requireSet returns the configured set name or an error.
func requireSet() (string, error) {
	set := viper.GetString("set")
	if set == "" {
		return "", fmt.Errorf("--set is required")
	}
	return set, nil
}

// Package cli wires the publication workflow substrate's components
// (settings, logging, object store, session store, monitor sink, backend
// client, activity/workflow/starter registries) and exposes them as cobra
// subcommands, one per long-poll process.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/elifesciences/pubflow/internal/activity"
	"github.com/elifesciences/pubflow/internal/adapters/bigquery"
	"github.com/elifesciences/pubflow/internal/cron"
	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/monitor"
	"github.com/elifesciences/pubflow/internal/objectstore"
	"github.com/elifesciences/pubflow/internal/pipeline/deposit"
	"github.com/elifesciences/pubflow/internal/pipeline/ingest"
	"github.com/elifesciences/pubflow/internal/queueworker"
	"github.com/elifesciences/pubflow/internal/session"
	"github.com/elifesciences/pubflow/internal/settings"
	"github.com/elifesciences/pubflow/internal/starter"
	"github.com/elifesciences/pubflow/internal/swfclient"
	"github.com/elifesciences/pubflow/internal/workflow"
)

var cfgFile string

// RootCmd is the pubflow binary's entry point. It carries no Run of its
// own; each of the five long-poll processes is a subcommand.
var RootCmd = &cobra.Command{
	Use:   "pubflow",
	Short: "publication workflow substrate: decider, worker, queueworker, starter, and cron processes",
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.pubflow.yaml)")
	RootCmd.PersistentFlags().String("env-prefix", "PUBFLOW", "environment variable prefix settings are loaded under")
	RootCmd.PersistentFlags().String("resources-dir", "resources", "directory holding workflow/routing/cron YAML resources")

	viper.BindPFlag("env_prefix", RootCmd.PersistentFlags().Lookup("env-prefix"))
	viper.BindPFlag("resources_dir", RootCmd.PersistentFlags().Lookup("resources-dir"))

	RootCmd.AddCommand(deciderCmd, workerCmd, queueWorkerCmd, starterCmd, cronCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pubflow")
	}

	viper.SetEnvPrefix("PUBFLOW_CLI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM, then cancels ctx so the
// running loop exits after its in-flight task. The sleep that follows runs
// only in this goroutine; it does not hold the process open once the
// command's loop has returned.
func waitForShutdown(cancel context.CancelFunc, logger *logging.ContextLogger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()
	time.Sleep(10 * time.Second)
}

func loadSettings() (*settings.Settings, error) {
	return settings.Load(viper.GetString("env_prefix"))
}

func newLogger(component string, st *settings.Settings) *logging.ContextLogger {
	base := logging.New(logging.Config{Level: st.LogLevel, Format: st.LogFormat, Service: "pubflow"})
	return logging.NewContextLogger(base, map[string]interface{}{"component": component})
}

func newObjectStore(ctx context.Context, st *settings.Settings, logger *logging.ContextLogger) (objectstore.Store, error) {
	return objectstore.NewS3Store(ctx, st.S3Region, st.S3Endpoint, logger)
}

func newSessionStore(ctx context.Context, st *settings.Settings) (session.Store, error) {
	return session.NewRedisStore(ctx, st.SessionRedisURL)
}

// newMonitorSink builds the Fanout sink described in SPEC_FULL.md: logging
// always, an optional websocket broadcaster, and an optional BigQuery
// mirror. The returned closer releases any backing connections.
func newMonitorSink(ctx context.Context, st *settings.Settings, logger *logging.ContextLogger) (monitor.Sink, func(), error) {
	var broadcaster *monitor.WebsocketBroadcaster
	if st.MonitorWebsocketURL != "" {
		broadcaster = monitor.NewWebsocketBroadcaster(st.MonitorWebsocketURL, logger)
	}

	var analytics *bigquery.Sink
	if st.BigQueryProject != "" && st.BigQueryDataset != "" {
		sink, err := bigquery.NewSink(ctx, st.BigQueryProject, st.BigQueryDataset, "monitor_events")
		if err != nil {
			return nil, nil, fmt.Errorf("cli: open bigquery sink: %w", err)
		}
		analytics = sink
	}

	var bcast monitor.Broadcaster
	if broadcaster != nil {
		bcast = broadcaster
	}
	var an monitor.Analytics
	if analytics != nil {
		an = analytics
	}

	closeFn := func() {
		if broadcaster != nil {
			broadcaster.Close()
		}
		if analytics != nil {
			analytics.Close()
		}
	}

	return monitor.NewFanout(logger, bcast, an), closeFn, nil
}

// newBackendClient returns the managed workflow backend client. No
// third-party SDK for this kind of backend appears anywhere in the
// dependency corpus (AWS dropped SWF from aws-sdk-go-v2 entirely), so the
// in-process fake doubles as the only implementation this module ships; a
// production deployment supplies its own swfclient.Client.
func newBackendClient() swfclient.Client {
	return swfclient.NewMemoryClient()
}

func resourcesDir() string {
	return viper.GetString("resources_dir")
}

func loadWorkflowRegistry() (*workflow.Registry, error) {
	data, err := os.ReadFile(resourcesDir() + "/workflow_definitions.yaml")
	if err != nil {
		return nil, fmt.Errorf("cli: read workflow definitions: %w", err)
	}
	return workflow.LoadFromYAML(data)
}

func loadRoutingTable() (*queueworker.RoutingTable, error) {
	data, err := os.ReadFile(resourcesDir() + "/routing_rules.yaml")
	if err != nil {
		return nil, fmt.Errorf("cli: read routing rules: %w", err)
	}
	var f struct {
		Rules []queueworker.Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cli: parse routing rules: %w", err)
	}
	return queueworker.CompileRules(f.Rules)
}

func loadCronEntries() ([]cron.Entry, error) {
	data, err := os.ReadFile(resourcesDir() + "/cron_schedule.yaml")
	if err != nil {
		return nil, fmt.Errorf("cli: read cron schedule: %w", err)
	}
	return cron.LoadEntries(data)
}

// newActivityRegistry registers the two exemplar activities, configuring
// each from Settings at registration time; Runtime still supplies the
// per-run session/object-store/monitor dependencies at Do time.
func newActivityRegistry(st *settings.Settings) *activity.Registry {
	reg := activity.NewRegistry()

	reg.Register("DepositCrossref", func() activity.Activity {
		a := deposit.New()
		a.ArticleVersionsURL = st.LaxEndpoint
		a.CrossrefURL = st.CrossrefEndpoint
		a.CrossrefLogin = st.CrossrefLoginID
		a.CrossrefPassword = st.CrossrefPassword
		if st.PubMedHost != "" {
			a.PubMedAddr = st.PubMedHost
			a.PubMedUser = st.PubMedUser
			a.PubMedPassword = st.PubMedPassword
			if len(st.PubMedSubDirs) > 0 {
				a.PubMedRemoteDir = st.PubMedSubDirs[0]
			}
		}
		a.SMTPHost = st.SMTPHost
		a.SMTPPort = st.SMTPPort
		a.SMTPUser = st.SMTPUser
		a.SMTPPassword = st.SMTPPassword
		a.FromEmail = st.FromEmail
		if st.AdminEmail != "" {
			a.AdminRecipients = []string{st.AdminEmail}
		}
		a.OutboxBucket = st.OutboxBucket
		a.Name = "crossref"
		a.FastlyAPIKey = st.FastlyAPIKey
		a.FastlyServiceIDs = st.FastlyServiceIDs
		return a
	})

	reg.Register("IngestDigestToEndpoint", func() activity.Activity {
		a := ingest.New()
		a.ArticleVersionsURL = st.LaxEndpoint
		a.DigestEndpointURL = st.DigestEndpoint
		a.OutboxBucket = st.OutboxBucket
		a.OutboxName = "digests"
		a.ArticleStoreBucket = st.OutboxBucket
		a.PreviewBaseURL = st.PreviewBaseURL
		return a
	})

	return reg
}

func newStarterRegistry() *starter.Registry {
	reg := starter.NewRegistry()
	reg.Register(starter.DepositCrossrefStarter{})
	reg.Register(starter.IngestDigestStarter{})
	return reg
}

// newRedisClient backs the development notification/start queue
// implementations, both plain Redis lists on the same connection.
func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cli: parse redis url %q: %w", url, err)
	}
	return redis.NewClient(opts), nil
}

// isSQSQueueURL distinguishes a production SQS queue URL from the
// redis://... URL used by the development backend.
func isSQSQueueURL(raw string) bool {
	return len(raw) >= 8 && raw[:8] == "https://"
}

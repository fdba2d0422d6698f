// Command face-trigger watches a camera for known faces and sends the mapped
// actuator command over MQTT, at most once per identity per cooldown window.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sweeney/face-trigger/internal/config"
	"github.com/sweeney/face-trigger/internal/logger"
	"github.com/sweeney/face-trigger/internal/logic"
	"github.com/sweeney/face-trigger/internal/mqtt"
	"github.com/sweeney/face-trigger/internal/vision"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newDialer builds the broker dialer; tests swap it for a fake.
var newDialer = func(cfg *config.Config, log *zap.SugaredLogger) mqtt.Dialer {
	return &mqtt.PahoDialer{
		Broker:         cfg.MQTT.Broker,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		KeepAlive:      cfg.MQTT.KeepAlive,
		Log:            log,
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "face-trigger",
		Short:        "Trigger an MQTT actuator when a known face is seen",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (YAML or TOML)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newCheckCmd(&cfgPath),
		newPublishCmd(&cfgPath),
	)
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture and dispatch daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			return run(cmd.Context(), cfg, log)
		},
	}
}

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and face gallery, then print the action table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			table, err := cfg.ActionTable()
			if err != nil {
				return err
			}
			gallery, err := vision.LoadGallery(cfg.Vision.Gallery)
			if err != nil {
				return err
			}
			return printCheck(cmd.OutOrStdout(), cfg, table, gallery)
		},
	}
}

func newPublishCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <action>",
		Short: "Send one command (servoN or spin360) to the actuator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := logic.ParseAction(args[0])
			if err != nil {
				return err
			}
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			channel := mqtt.NewChannel(newDialer(cfg, log), channelOptions(cfg), log, nil)
			defer channel.Close()

			if !channel.Send(cmd.Context(), action) {
				return fmt.Errorf("publish %s to %s failed", action, cfg.MQTT.Topic)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", action, cfg.MQTT.Topic)
			return nil
		},
	}
}

// loadConfig reads and validates the configuration.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(viper.New(), path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setup(path string) (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	if cfg.UsesDefaultToken() {
		log.Warnw("mqtt.token is the factory default; set MQTT_TOKEN")
	}
	return cfg, log, nil
}

func channelOptions(cfg *config.Config) mqtt.Options {
	return mqtt.Options{
		ClientID:   cfg.MQTT.ClientID,
		Topic:      cfg.MQTT.Topic,
		Token:      cfg.MQTT.Token,
		QoS:        byte(cfg.MQTT.QoS),
		WaitForAck: cfg.MQTT.WaitForAck,
		AckTimeout: cfg.MQTT.AckTimeout,
	}
}

func printCheck(w io.Writer, cfg *config.Config, table *logic.ActionTable, gallery *vision.Gallery) error {
	fmt.Fprintf(w, "broker:   %s\n", cfg.MQTT.Broker)
	fmt.Fprintf(w, "topic:    %s\n", cfg.MQTT.Topic)
	fmt.Fprintf(w, "cooldown: %s\n", cfg.Cooldown)
	fmt.Fprintf(w, "gallery:  %s (%d encodings)\n\n", cfg.Vision.Gallery, gallery.Len())

	inGallery := make(map[string]bool)
	for _, name := range gallery.Names() {
		inGallery[name] = true
	}
	ruled := make(map[string]bool)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTITY\tACTION\tIN GALLERY")
	for _, id := range table.Identities() {
		ruled[string(id)] = true
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, table.Resolve(id), yesNo(inGallery[string(id)]))
	}
	for _, name := range gallery.Names() {
		if !ruled[name] {
			fmt.Fprintf(tw, "%s\t%s (default)\tyes\n", name, table.Default())
		}
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/musegen/musegen/pkg/cmd/analyze"
	"github.com/musegen/musegen/pkg/cmd/batch"
	"github.com/musegen/musegen/pkg/cmd/draft"
	"github.com/musegen/musegen/pkg/cmd/generate"
	"github.com/musegen/musegen/pkg/cmd/migrate"
	"github.com/musegen/musegen/pkg/cmd/serve"
	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("musegen", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "musegen [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newMigrateCommand(),
			newServeCommand(),
			newGenerateCommand(),
			newBatchCommand(),
			newAnalyzeCommand(),
			newDraftCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "musegen version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &migrate.Config{}

	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musegen %s [flags] <key> <value data...>", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("MUSEGEN"),
		},
		ShortHelp: fmt.Sprintf("musegen %s action", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return migrate.Run(ctx, cfg)
		},
	}
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &serve.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type (local, s3)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region for s3")

	fs.StringVar(&cfg.Addr, "addr", ":8000", "address to listen on")
	fsMapVar(fs, &cfg.Credentials, "creds", nil, "credentials to use (semicolon separated) Example: user1:pass1;user2:pass2")

	fs.StringVar(&cfg.ServiceURL, "service-url", "", "inference service url, leave empty to use the local binary")
	fs.StringVar(&cfg.Bin, "bin", "", "local generation binary path")
	fs.DurationVar(&cfg.Wait, "wait", 1*time.Second, "wait time between service retries")
	fs.IntVar(&cfg.DefaultDuration, "default-duration", 30, "default track duration in seconds")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musegen %s [flags] <key> <value data...>", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("MUSEGEN"),
		},
		ShortHelp: fmt.Sprintf("musegen %s action", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return serve.Run(ctx, cfg)
		},
	}
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &generate.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Output, "output", "track.wav", "output wav file")

	fs.StringVar(&cfg.Tags, "tags", "", "genre and style tags for the track")
	fs.StringVar(&cfg.Lyrics, "lyrics", "", "lyrics for the track")
	fs.IntVar(&cfg.Duration, "duration", 0, "track duration in seconds (0 means default)")
	fs.Int64Var(&cfg.Seed, "seed", -1, "generation seed (negative means random)")
	fs.IntVar(&cfg.InferenceSteps, "steps", 0, "number of inference steps (0 means default)")
	fs.Float64Var(&cfg.GuidanceScale, "guidance", 0, "guidance scale (0 means default)")

	fs.StringVar(&cfg.ServiceURL, "service-url", "", "inference service url, leave empty to use the local binary")
	fs.StringVar(&cfg.Bin, "bin", "", "local generation binary path")
	fs.DurationVar(&cfg.Wait, "wait", 1*time.Second, "wait time between service retries")
	fs.IntVar(&cfg.DefaultDuration, "default-duration", 30, "default track duration in seconds")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musegen %s [flags] <key> <value data...>", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("MUSEGEN"),
		},
		ShortHelp: fmt.Sprintf("musegen %s action", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return generate.Run(ctx, cfg)
		},
	}
}

func newBatchCommand() *ffcli.Command {
	cmd := "batch"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &batch.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type (local, s3)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region for s3")

	fs.StringVar(&cfg.Input, "input", "", "csv or json with jobs (fields: tags,lyrics,duration,seed,inference_steps,guidance_scale)")
	fs.StringVar(&cfg.Output, "output", "", "output folder for wav files (optional)")
	fs.IntVar(&cfg.Limit, "limit", 0, "limit the number iterations (0 means no limit)")

	fs.StringVar(&cfg.ServiceURL, "service-url", "", "inference service url, leave empty to use the local binary")
	fs.StringVar(&cfg.Bin, "bin", "", "local generation binary path")
	fs.DurationVar(&cfg.Wait, "wait", 1*time.Second, "wait time between service retries")
	fs.IntVar(&cfg.DefaultDuration, "default-duration", 30, "default track duration in seconds")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musegen %s [flags] <key> <value data...>", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("MUSEGEN"),
		},
		ShortHelp: fmt.Sprintf("musegen %s action", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return batch.Run(ctx, cfg)
		},
	}
}

func newAnalyzeCommand() *ffcli.Command {
	cmd := "analyze"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &analyze.Config{}
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Input, "input", "", "input file")
	fs.StringVar(&cfg.Output, "output", "", "output folder for plots (optional)")
	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type (local, s3) to upload plots to (optional)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region for s3")
	fs.StringVar(&cfg.ID, "id", "", "artifact id for uploaded plots (defaults to the input file name)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musegen %s [flags] <key> <value data...>", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("MUSEGEN"),
		},
		ShortHelp: fmt.Sprintf("musegen %s command", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return analyze.Run(ctx, cfg)
		},
	}
}

func newDraftCommand() *ffcli.Command {
	cmd := "draft"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &draft.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Input, "input", "", "input file with one theme per line")
	fs.StringVar(&cfg.Output, "output", "jobs.csv", "output csv or json file")
	fs.IntVar(&cfg.Limit, "limit", 0, "limit the number iterations (0 means no limit)")
	fs.StringVar(&cfg.Token, "openai-token", "", "openai api token")
	fs.StringVar(&cfg.Model, "openai-model", "", "openai model to use")
	fs.IntVar(&cfg.Duration, "duration", 0, "track duration in seconds (0 means default)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("musegen %s [flags] <key> <value data...>", cmd),
		Options: []ff.Option{
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
			ff.WithEnvVarPrefix("MUSEGEN"),
		},
		ShortHelp: fmt.Sprintf("musegen %s action", cmd),
		FlagSet:   fs,
		Exec: func(ctx context.Context, args []string) error {
			return draft.Run(ctx, cfg)
		},
	}
}

type mapValue struct {
	v *map[string]string
}

func (m *mapValue) String() string {
	if m.v == nil {
		return ""
	}
	return fmt.Sprintf("%v", map[string]string(*m.v))
}

func (m *mapValue) Set(value string) error {
	if m.v == nil {
		return errors.New("nil map reference")
	}
	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid map entry: %s", pair)
		}
		(*m.v)[parts[0]] = parts[1]
	}
	return nil
}

func fsMapVar(fs *flag.FlagSet, p *map[string]string, name string, value map[string]string, usage string) {
	if value == nil {
		value = make(map[string]string)
	}
	*p = value
	fs.Var(&mapValue{p}, name, usage)
}

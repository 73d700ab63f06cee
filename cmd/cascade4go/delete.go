package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ammar0144/cascade4go/pkg/cascade"
	"github.com/ammar0144/cascade4go/pkg/config"
	"github.com/ammar0144/cascade4go/pkg/db"
	"github.com/ammar0144/cascade4go/pkg/logging"
	"github.com/ammar0144/cascade4go/pkg/redis"
	"github.com/ammar0144/cascade4go/pkg/repository"
)

var (
	whereExpr  string
	whereArgs  []string
	filterArgs []string
	dryRun     bool
	actor      string
)

var errDryRun = errors.New("dry run")

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete rows of a model and cascade to its relations",
	RunE:  runDelete,
}

func init() {
	deleteCmd.Flags().StringVarP(&modelName, "model", "m", "", "Model to delete from (name or table)")
	deleteCmd.Flags().StringVarP(&whereExpr, "where", "w", "", `Condition with "?" placeholders, e.g. "id = ?"`)
	deleteCmd.Flags().StringArrayVar(&whereArgs, "arg", nil, "Argument for a --where placeholder (repeatable)")
	deleteCmd.Flags().StringArrayVarP(&filterArgs, "filter", "f", nil, `Extra condition such as "status=archived" (repeatable)`)
	deleteCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Roll back after cascading and report what would have happened")
	deleteCmd.Flags().StringVar(&actor, "actor", "", "Actor recorded on the request")
	_ = deleteCmd.MarkFlagRequired("model")
}

// deleteOptions are the parsed flags of the delete command.
type deleteOptions struct {
	Model   string
	Where   string
	Args    []string
	Filters []string
	DryRun  bool
	Actor   string
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return executeDelete(cmd.Context(), cmd.OutOrStdout(), cfg, deleteOptions{
		Model:   modelName,
		Where:   whereExpr,
		Args:    whereArgs,
		Filters: filterArgs,
		DryRun:  dryRun,
		Actor:   actor,
	})
}

// executeDelete deletes the matching rows of o.Model through the cascade
// plugin inside one transaction and writes a report to w.
func executeDelete(ctx context.Context, w io.Writer, cfg *config.Config, o deleteOptions) error {
	where, values, err := buildCondition(o.Where, o.Args, o.Filters)
	if err != nil {
		return err
	}

	models, err := cascade.LoadSchemaFile(cfg.Schema)
	if err != nil {
		return err
	}
	m, err := findModel(models, o.Model)
	if err != nil {
		return err
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := []repository.CascadeOption{
		repository.WithCascadeConfig(&cfg.Cascade),
		repository.WithCascadeLogger(logger),
	}
	if cfg.Redis.Enabled {
		cache, err := redis.NewManager(&cfg.Redis, redis.WithLogger(logger))
		if err != nil {
			return err
		}
		defer cache.Close()
		opts = append(opts, repository.WithCascadeCache(cache, cfg.Database.CacheNamespace()))
	}

	p := repository.NewCascade(opts...)
	if err := p.RegisterModel(models...); err != nil {
		return err
	}

	manager, err := db.NewManager(&cfg.Database, db.WithLogger(logger), db.WithPlugins(p))
	if err != nil {
		return err
	}
	defer manager.Close()

	req := cascade.NewRequest(o.Actor)
	ctx = cascade.WithRequest(ctx, req)
	logger.Info("cascading delete",
		zap.String("request_id", req.ID),
		zap.String("table", m.TableName()),
		zap.Bool("dry_run", o.DryRun),
	)

	ctx, flush := p.DeferInvalidation(ctx)

	var affected int64
	err = manager.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(m.TableName()).Where(where, values...).Delete(map[string]any{})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if o.DryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return fmt.Errorf("delete %s: %w", m.TableName(), err)
	}
	if err == nil {
		flush(ctx)
	}

	printReport(w, m, affected, p.Metrics().GetSnapshot(), o.DryRun)
	return nil
}

// buildCondition combines the --where expression and the --filter
// conditions. A delete without any condition is refused.
func buildCondition(where string, args, filters []string) (string, []any, error) {
	where = strings.TrimSpace(where)
	if n := countPlaceholders(where); n != len(args) {
		return "", nil, fmt.Errorf("--where has %d placeholders but %d --arg given", n, len(args))
	}

	values := make([]any, 0, len(args))
	for _, a := range args {
		values = append(values, argValue(a))
	}

	f, err := db.ParseFilter(filters)
	if err != nil {
		return "", nil, err
	}
	filter, filterValues := f.Build()

	switch {
	case where == "" && filter == "":
		return "", nil, fmt.Errorf("refusing to delete without --where or --filter")
	case filter == "":
		return where, values, nil
	case where == "":
		return filter, filterValues, nil
	}
	return fmt.Sprintf("(%s) AND %s", where, filter), append(values, filterValues...), nil
}

// countPlaceholders counts the "?" outside quoted SQL literals and
// identifiers. A doubled quote inside a literal closes and reopens it, which
// leaves the count unchanged.
func countPlaceholders(where string) int {
	var n int
	var quote rune
	for _, r := range where {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '?':
			n++
		}
	}
	return n
}

// argValue binds integers as integers and everything else as text.
func argValue(s string) any {
	if n, err := cast.ToInt64E(s); err == nil && strings.TrimSpace(s) != "" {
		return n
	}
	return s
}

func printReport(w io.Writer, m *cascade.Model, affected int64, snap cascade.MetricsSnapshot, dry bool) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	if dry {
		yellow.Fprintf(w, "dry run: %d %s row(s) would be deleted (rolled back)\n", affected, m.TableName())
	} else {
		green.Fprintf(w, "deleted %d %s row(s)\n", affected, m.TableName())
	}
	fmt.Fprintf(w, "  instances visited:  %d\n", snap.InstancesVisited)
	fmt.Fprintf(w, "  handler calls:      %d\n", snap.HandlerCalls)
	fmt.Fprintf(w, "  handler failures:   %d\n", snap.HandlerFailures)
	fmt.Fprintf(w, "  skipped (disabled): %d\n", snap.SkippedIneligible)
	fmt.Fprintf(w, "  skipped (handler):  %d\n", snap.SkippedNoHandler)
}

// Package cli реализует консольную утилиту subboyctl: ручной сдвиг дат,
// разовую рассылку, миграции и просмотр последних запусков задач.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maximaxme/subboy/internal/config"
	"github.com/maximaxme/subboy/internal/lib/sl"
)

const dateLayout = "2006-01-02"

// env общие для всех команд зависимости.
type env struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
	now        func() time.Time
}

func (e *env) load() error {
	if e.cfg != nil {
		return nil
	}
	path := e.configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return fmt.Errorf("config path is not set: use --config or CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.log = sl.New(cfg.Env)
	return nil
}

// today разбирает --date или берёт текущую дату UTC.
func (e *env) today(date string) (time.Time, error) {
	if date == "" {
		return e.now().UTC(), nil
	}
	t, err := time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", date)
	}
	return t, nil
}

// NewRootCmd создаёт корневую команду со всеми подкомандами.
func NewRootCmd() *cobra.Command {
	e := &env{now: time.Now}

	root := &cobra.Command{
		Use:           "subboyctl",
		Short:         "Manage subscription reminders",
		Long:          `Run billing-cycle advancement and reminder jobs by hand, apply migrations and inspect job runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "path to config file (default $CONFIG_PATH)")

	root.AddCommand(
		newAdvanceCmd(e),
		newRemindCmd(e),
		newMigrateCmd(e),
		newJobsCmd(e),
	)
	return root
}

// Execute запускает утилиту и возвращает код выхода.
func Execute() int {
	_ = godotenv.Load()
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

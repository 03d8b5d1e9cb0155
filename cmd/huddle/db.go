package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/huddle/internal/config"
	"github.com/zulandar/huddle/internal/db"
	"github.com/zulandar/huddle/internal/models"
	"gopkg.in/yaml.v3"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var (
		configPath string
		create     bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Huddle tables",
		Long: `Migrates the users, candidates, messages and notifications tables.
With --create on MySQL, the database itself is created first if missing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath, create)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Huddle config file")
	cmd.Flags().BoolVar(&create, "create", false, "create the MySQL database if it does not exist")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string, create bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if create && cfg.Database.Driver == "mysql" && cfg.Database.DSN == "" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)
	return nil
}

// seedFile lists directory entries and candidates for local development.
type seedFile struct {
	Users []struct {
		ID       string `yaml:"id"`
		Username string `yaml:"username"`
		Name     string `yaml:"name"`
		Email    string `yaml:"email"`
	} `yaml:"users"`
	Candidates []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
	} `yaml:"candidates"`
}

func newDBSeedCmd() *cobra.Command {
	var (
		configPath string
		seedPath   string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users and candidates from a YAML file",
		Long: `Upserts users and candidates for local development. Both are normally
owned by other services; Huddle only reads them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBSeed(cmd, configPath, seedPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Huddle config file")
	cmd.Flags().StringVarP(&seedPath, "file", "f", "seed.yaml", "path to seed file")
	return cmd
}

func runDBSeed(cmd *cobra.Command, configPath, seedPath string) error {
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	users := make([]models.User, 0, len(seed.Users))
	for _, u := range seed.Users {
		users = append(users, models.User{ID: u.ID, Username: u.Username, Name: u.Name, Email: u.Email})
	}
	if err := db.SeedUsers(gormDB, users); err != nil {
		return err
	}
	candidates := make([]models.Candidate, 0, len(seed.Candidates))
	for _, c := range seed.Candidates {
		candidates = append(candidates, models.Candidate{ID: c.ID, Name: c.Name, Email: c.Email})
	}
	if err := db.SeedCandidates(gormDB, candidates); err != nil {
		return err
	}

	fmt.Fprintf(out, "Seeded %d users and %d candidates\n", len(users), len(candidates))
	return nil
}

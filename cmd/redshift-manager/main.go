package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/urfave/cli/v2"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/filemanager"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/rudderlabs/redshift-manager/internal/creds"
	"github.com/rudderlabs/redshift-manager/internal/logfield"
	"github.com/rudderlabs/redshift-manager/internal/source"
	"github.com/rudderlabs/redshift-manager/internal/sqlgen"
	"github.com/rudderlabs/redshift-manager/internal/transfer"
	"github.com/rudderlabs/redshift-manager/internal/warehouse"
)

func main() {
	app := &cli.App{
		Name:  "redshift-manager",
		Usage: "bulk table transfers and user administration for Redshift",
		Commands: []*cli.Command{
			transferCommand(),
			createUserCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func transferCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "copy a source table or query result into a Redshift table via object storage",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source-table", Usage: "source table to copy (mutually exclusive with --source-query)"},
			&cli.StringFlag{Name: "source-query", Usage: "source query to copy (mutually exclusive with --source-table)"},
			&cli.StringFlag{Name: "destination-table", Required: true, Usage: "destination table, must already exist"},
			&cli.StringFlag{Name: "bucket", Required: true, Usage: "staging bucket"},
			&cli.StringFlag{Name: "key-prefix", Usage: "key prefix for staged objects"},
			&cli.IntFlag{Name: "slices", Value: 32, Usage: "number of chunks to stage"},
			&cli.StringFlag{Name: "staging-dir", Usage: "local staging directory (defaults to the system temp dir)"},
			&cli.StringFlag{Name: "format", Value: "csv", Usage: "chunk serialization format, csv or json"},
			&cli.StringFlag{Name: "sample-file", Usage: "sample document used to derive the json field mapping"},
			&cli.IntFlag{Name: "list-index", Usage: "array index used for every array in the field mapping"},
			&cli.BoolFlag{Name: "keep-storage-on-failure", Usage: "keep staged objects when the transfer fails"},
			&cli.BoolFlag{Name: "keep-local", Usage: "keep the local staging extract and chunk files"},
			&cli.Uint64Flag{Name: "retries", Usage: "retry the whole transfer this many times"},
		},
		Action: runTransfer,
	}
}

func runTransfer(c *cli.Context) error {
	conf := config.Default
	log := logger.NewLogger().Child("redshift-manager")

	req := transfer.Request{
		Source: source.QuerySpec{
			Table: c.String("source-table"),
			Query: c.String("source-query"),
		},
		DestinationTable:        c.String("destination-table"),
		Bucket:                  c.String("bucket"),
		KeyPrefix:               c.String("key-prefix"),
		Slices:                  c.Int("slices"),
		StagingDir:              c.String("staging-dir"),
		Format:                  transfer.Format(c.String("format")),
		ListIndex:               c.Int("list-index"),
		Credentials:             credentialsFromConfig(conf),
		CleanupStorageOnFailure: !c.Bool("keep-storage-on-failure"),
		CleanupLocal:            !c.Bool("keep-local"),
	}
	if sampleFile := c.String("sample-file"); sampleFile != "" {
		sample, err := os.ReadFile(sampleFile)
		if err != nil {
			return fmt.Errorf("reading sample file: %w", err)
		}
		req.SampleDocument = sample
	}

	sourceDB, err := warehouse.Connect(warehouse.Credentials{
		Host:     conf.GetString("Source.host", "localhost"),
		Port:     conf.GetString("Source.port", "5432"),
		Database: conf.GetString("Source.database", ""),
		User:     conf.GetString("Source.user", ""),
		Password: conf.GetString("Source.password", ""),
		SSLMode:  conf.GetString("Source.sslMode", ""),
	})
	if err != nil {
		return err
	}
	defer func() { _ = sourceDB.Close() }()

	warehouseDB, err := connectWarehouse(conf)
	if err != nil {
		return err
	}
	defer func() { _ = warehouseDB.Close() }()
	wh := warehouse.New(warehouseDB,
		warehouse.WithLogger(log.Child("warehouse")),
		warehouse.WithKeyAndValues(logfield.DestinationTable, req.DestinationTable),
	)

	store, err := filemanager.New(&filemanager.Settings{
		Provider: conf.GetString("Storage.provider", "S3"),
		Config: map[string]interface{}{
			"bucketName":  req.Bucket,
			"region":      conf.GetString("Storage.region", ""),
			"accessKeyID": conf.GetString("Storage.accessKeyID", ""),
			"accessKey":   conf.GetString("Storage.accessKey", ""),
		},
		Logger: log.Child("filemanager"),
		Conf:   conf,
	})
	if err != nil {
		return fmt.Errorf("creating storage client: %w", err)
	}

	manager := transfer.New(conf, log, stats.Default, wh, store, source.NewConnector(log, sourceDB))

	// Retrying is the caller's job: the pipeline itself never retries, so the
	// whole transfer is wrapped here, with validation errors marked permanent.
	operation := func() error {
		err := manager.Transfer(c.Context, req)
		var terr *transfer.Error
		if errors.As(err, &terr) && terr.Permanent() {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.Uint64("retries")),
		c.Context,
	)
	return backoff.Retry(operation, policy)
}

func createUserCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-user",
		Usage: "print or execute a CREATE USER batch",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true, Usage: "user name"},
			&cli.StringFlag{Name: "password", Usage: "password, generated when omitted"},
			&cli.IntFlag{Name: "password-length", Value: 64, Usage: "length of the generated password"},
			&cli.StringFlag{Name: "valid-until", Usage: "password expiry timestamp"},
			&cli.BoolFlag{Name: "createdb", Usage: "allow the user to create databases"},
			&cli.BoolFlag{Name: "createuser", Usage: "create a superuser"},
			&cli.StringSliceFlag{Name: "group", Usage: "existing group to add the user to, repeatable"},
			&cli.BoolFlag{Name: "execute", Usage: "run the batch against the warehouse instead of printing it"},
		},
		Action: runCreateUser,
	}
}

func runCreateUser(c *cli.Context) error {
	password := c.String("password")
	if password == "" {
		generated, err := sqlgen.RandomPassword(c.Int("password-length"))
		if err != nil {
			return err
		}
		password = generated
		fmt.Printf("generated password: %s\n", password)
	}

	batch := sqlgen.CreateUser(c.String("name"), sqlgen.UserOptions{
		Password:   password,
		ValidUntil: c.String("valid-until"),
		CreateDB:   c.Bool("createdb"),
		CreateUser: c.Bool("createuser"),
		Groups:     c.StringSlice("group"),
	})

	if !c.Bool("execute") {
		fmt.Println(batch)
		return nil
	}

	conf := config.Default
	log := logger.NewLogger().Child("redshift-manager")

	warehouseDB, err := connectWarehouse(conf)
	if err != nil {
		return err
	}
	defer func() { _ = warehouseDB.Close() }()
	wh := warehouse.New(warehouseDB, warehouse.WithLogger(log.Child("warehouse")))

	for _, statement := range strings.Split(batch, ";\n") {
		if _, err := wh.ExecContext(c.Context, statement); err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
	}
	return nil
}

func connectWarehouse(conf *config.Config) (*sql.DB, error) {
	return warehouse.Connect(warehouse.Credentials{
		Host:     conf.GetString("Warehouse.host", "localhost"),
		Port:     conf.GetString("Warehouse.port", "5439"),
		Database: conf.GetString("Warehouse.database", ""),
		User:     conf.GetString("Warehouse.user", ""),
		Password: conf.GetString("Warehouse.password", ""),
		SSLMode:  conf.GetString("Warehouse.sslMode", ""),
	})
}

func credentialsFromConfig(conf *config.Config) creds.Credentials {
	return creds.Credentials{
		AccessKeyID:     conf.GetString("Transfer.accessKeyID", ""),
		SecretAccessKey: conf.GetString("Transfer.secretAccessKey", ""),
		SessionToken:    conf.GetString("Transfer.sessionToken", ""),
		AccountID:       conf.GetString("Transfer.iamAccountID", ""),
		RoleName:        conf.GetString("Transfer.iamRoleName", ""),
	}
}

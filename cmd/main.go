/*
Copyright 2024 Ichiba Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ichiba "github.com/ichiba-io/ichiba"
	"github.com/ichiba-io/ichiba/config"
	"github.com/ichiba-io/ichiba/database"
	"github.com/ichiba-io/ichiba/internal/notification"
)

// Ichiba represents the CLI application, encapsulating the root Cobra command.
type Ichiba struct {
	cmd *cobra.Command
}

// ichibaInstance holds the runtime instance and its configuration, shared by
// all subcommands.
type ichibaInstance struct {
	ichiba *ichiba.Ichiba
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the Ichiba instance before any
// command runs.
func preRun(app *ichibaInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("ichiba.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newIchiba, err := setupIchiba(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.ichiba = newIchiba
		app.cnf = cnf

		return nil
	}
}

func setupIchiba(cfg *config.Configuration) (*ichiba.Ichiba, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newIchiba, err := ichiba.NewIchiba(db)
	if err != nil {
		return nil, fmt.Errorf("error creating ichiba: %v", err)
	}
	return newIchiba, nil
}

// NewCLI creates the command-line interface for the listing pipeline.
func NewCLI() *Ichiba {
	var configFile string
	b := &ichibaInstance{}

	var rootCmd = &cobra.Command{
		Use:   "ichiba",
		Short: "Multi-marketplace listing pipeline",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./ichiba.json", "Configuration file for the pipeline")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Ichiba{cmd: rootCmd}
}

func (w Ichiba) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}

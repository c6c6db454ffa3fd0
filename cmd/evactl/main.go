// Package main implements evactl, an offline tool for inspecting and
// migrating chat history snapshots without a running server.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eva-ai/platform/internal/history"
	"github.com/eva-ai/platform/internal/kv"
	"github.com/eva-ai/platform/pkg/logger"
)

var (
	storagePath    string
	storageBackend string
	outputPath     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "evactl",
		Short:        "Operate on EVA chat history storage",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "./data", "storage directory")
	rootCmd.PersistentFlags().StringVar(&storageBackend, "backend", "file", "storage backend (file|sqlite)")

	exportCmd := &cobra.Command{
		Use:   "export [conversation-id...]",
		Short: "Export conversations as JSON",
		RunE:  runExport,
	}
	exportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write to file instead of stdout")

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import conversations from an exported JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print history statistics",
		RunE:  runStats,
	}

	rootCmd.AddCommand(exportCmd, importCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openService() (*history.Service, kv.Store, error) {
	var store kv.Store
	var err error
	switch storageBackend {
	case "sqlite":
		store, err = kv.NewSQLiteStore(filepath.Join(storagePath, "eva.db"))
	default:
		store, err = kv.NewFileStore(storagePath)
	}
	if err != nil {
		return nil, nil, err
	}
	return history.NewService(store, logger.NewNop()), store, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := svc.ExportConversations(args)
	if err != nil {
		return err
	}

	if outputPath == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := svc.ImportConversations(data)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d conversations\n", count)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	svc, store, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	out, err := json.MarshalIndent(svc.GetStatistics(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yourusername/cachefs/internal/reportsink"
)

var statsConfiguration struct {
	file      string
	cacheRoot string
}

var statsCommand = &cobra.Command{
	Use:   "stats",
	Short: "Print cache tree or saved run statistics",
	RunE:  runStats,
}

func init() {
	flags := statsCommand.Flags()
	flags.StringVar(&statsConfiguration.file, "file", "", "Path to a statistics JSON file produced by mount --stats-file")
	flags.StringVar(&statsConfiguration.cacheRoot, "cache", "", "Cache directory to walk and summarize")
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsConfiguration.file == "" && statsConfiguration.cacheRoot == "" {
		return fmt.Errorf("one of --file or --cache is required")
	}

	heading := color.New(color.FgCyan, color.Bold)
	label := color.New(color.FgYellow)

	if statsConfiguration.cacheRoot != "" {
		count, size, err := walkCacheTree(statsConfiguration.cacheRoot)
		if err != nil {
			return fmt.Errorf("walk cache tree: %w", err)
		}
		heading.Println("==========================================")
		heading.Println("cachefsd cache tree")
		heading.Println("==========================================")
		label.Printf("  %-16s", "root:")
		fmt.Printf(" %s\n", statsConfiguration.cacheRoot)
		label.Printf("  %-16s", "files:")
		fmt.Printf(" %d\n", count)
		label.Printf("  %-16s", "size:")
		fmt.Printf(" %s\n", reportsink.Humanized(size))
	}

	if statsConfiguration.file != "" {
		data, err := os.ReadFile(statsConfiguration.file)
		if err != nil {
			return fmt.Errorf("read statistics file: %w", err)
		}

		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse statistics file: %w", err)
		}

		heading.Println("==========================================")
		heading.Println("cachefsd run statistics")
		heading.Println("==========================================")
		for _, key := range []string{"timestamp", "uptimeSeconds", "hits", "misses", "hitRatePct", "reads", "requests", "cached", "uncached", "errors"} {
			if v, ok := doc[key]; ok {
				label.Printf("  %-16s", key+":")
				fmt.Printf(" %v\n", v)
			}
		}
	}
	return nil
}

// walkCacheTree reports the number of regular files under root and their
// total size, the same metric the Cleaner evicts by age rather than size.
func walkCacheTree(root string) (count int, totalSize int64, err error) {
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		count++
		totalSize += info.Size()
		return nil
	})
	return count, totalSize, err
}

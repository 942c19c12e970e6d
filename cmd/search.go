package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dupe-finder/internal/dupes"
)

var searchImage string

var searchCmd = &cobra.Command{
	Use:   "search [text...]",
	Short: "Resolve a product search and store its dupes",
	Example: `  dupe-finder search "tarte shape tape concealer"
  dupe-finder search --image ./photo.jpg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" && searchImage == "" {
			return eris.New("search text or --image is required")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close()

		ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Pipeline.SearchTimeoutSecs)*time.Second)
		defer cancel()

		var res *dupes.SearchResult
		if searchImage != "" {
			data, err := os.ReadFile(searchImage)
			if err != nil {
				return eris.Wrap(err, "read image")
			}
			res, err = env.Search.SearchImage(ctx, data, http.DetectContentType(data))
			if err != nil {
				return err
			}
		} else {
			res, err = env.Search.Search(ctx, text)
			if err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*dupes.SearchResult
			Existing bool `json:"existing"`
		}{res, res.Existing})
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchImage, "image", "", "path to a product photo")
	rootCmd.AddCommand(searchCmd)
}

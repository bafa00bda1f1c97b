package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/displayagent/internal/imagecache"
	"github.com/Lllllllleong/displayagent/internal/models"
	"github.com/Lllllllleong/displayagent/internal/raster"
	"github.com/Lllllllleong/displayagent/internal/services"
)

var (
	renderID     string
	renderType   string
	renderSingle bool
)

var renderCmd = &cobra.Command{
	Use:   "render <url>",
	Short: "Rasterize one document and print its page URLs",
	Long: `Rasterize a document the same way the kiosk does, reusing pages the
backend already has. Use --single for roster and menu documents.`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderID, "id", "", "document id (required)")
	renderCmd.Flags().StringVar(&renderType, "type", "plan", "document type: plan, roster or menu")
	renderCmd.Flags().BoolVar(&renderSingle, "single", false, "render only the first page")
	_ = renderCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseDocumentType(renderType)
	if err != nil {
		return err
	}
	doc := &models.Document{ID: renderID, URL: args[0], Type: kind, Active: true}

	ctx := cmd.Context()
	client := services.NewBackendClient(cfg)
	store, err := services.OpenImageStore(ctx, cfg)
	if err != nil {
		return err
	}
	images := imagecache.New(store, imagecache.WithDuration(cfg.Cache.TTL.Duration))
	defer images.Close()

	r, closeRaster, err := services.NewRasterizer(ctx, cfg, client, images)
	if err != nil {
		return err
	}
	defer closeRaster()

	if renderSingle {
		entry, err := r.RasterizeSingle(ctx, doc)
		if err != nil {
			return fmt.Errorf("render failed: %w", err)
		}
		cmd.Println(entry.ImageURL)
		return nil
	}

	res, err := r.Rasterize(ctx, doc, func(p raster.Progress) {
		cmd.PrintErrf("page %d/%d\n", p.Page, p.Total)
	})
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	for _, p := range res.Pages {
		marker := ""
		if p.Failed {
			marker = " (placeholder)"
		}
		cmd.Printf("%d\t%s%s\n", p.PageIndex+1, p.ImageURL, marker)
	}
	cmd.Printf("key=%s cached=%t\n", res.DocumentKey, res.FromCache)
	return nil
}

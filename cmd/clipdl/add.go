package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/Witriol/clipdl/internal/queue"
	"github.com/Witriol/clipdl/internal/ytdlp"
)

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "start downloading one or more clips",
		ArgsUsage: "<url> [<url2> ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "quality", Aliases: []string{"q"}, Value: string(ytdlp.QualityBest), Usage: "best, 1080p, 720p, video_only, audio_best or audio_low"},
			&cli.StringFlag{Name: "start", Usage: "clip start (HH:MM:SS or seconds)"},
			&cli.StringFlag{Name: "end", Usage: "clip end (HH:MM:SS or seconds)"},
			&cli.StringFlag{Name: "title", Usage: "display title"},
			&cli.StringFlag{Name: "tags", Usage: "comma separated tags"},
			&cli.StringFlag{Name: "group", Usage: "group id"},
			&cli.StringFlag{Name: "profile", Usage: "profile id (default: current profile)"},
			&cli.StringSliceFlag{Name: "file", Usage: "read URLs from a file, one per line"},
			&cli.BoolFlag{Name: "stdin", Usage: "read URLs from stdin"},
		},
		Action: withClient(cmdAdd),
	}
}

func cmdAdd(c *client, ctx *cli.Context) error {
	urls := ctx.Args().Slice()
	if ctx.Bool("stdin") {
		more, err := readURLs(os.Stdin)
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	for _, path := range ctx.StringSlice("file") {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		more, err := readURLs(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URL given")
	}
	if len(urls) > 1 && ctx.String("title") != "" {
		return fmt.Errorf("--title can only be used with a single URL")
	}
	hadErr := false
	for _, u := range urls {
		spec := queue.JobSpec{
			URL:         u,
			Quality:     ctx.String("quality"),
			StartTime:   ctx.String("start"),
			EndTime:     ctx.String("end"),
			CustomTitle: ctx.String("title"),
			Tags:        ctx.String("tags"),
			GroupID:     ctx.String("group"),
			ProfileID:   ctx.String("profile"),
		}
		var resp struct {
			ID string `json:"id"`
		}
		if err := c.postJSON("/api/download", spec, &resp); err != nil {
			fmt.Printf("%s %s: %v\n", errorStyle.Render("failed"), u, err)
			hadErr = true
			continue
		}
		fmt.Printf("%s %s (%s)\n", okStyle.Render("started"), resp.ID, u)
	}
	if hadErr {
		return cli.Exit("", 1)
	}
	return nil
}

func readURLs(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

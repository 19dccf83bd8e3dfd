package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Witriol/clipdl/internal/api"
	"github.com/Witriol/clipdl/internal/library"
	"github.com/Witriol/clipdl/internal/probe"
	"github.com/Witriol/clipdl/internal/queue"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const defaultAPI = "http://127.0.0.1:8000"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		log.SetFlags(0)
		log.Fatal(errorStyle.Render("error: " + err.Error()))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "clipdl",
		Usage:   "command line client for the clipdld clip downloader",
		Version: versionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Usage:   "daemon base URL",
				Value:   defaultAPI,
				EnvVars: []string{"CLIPDL_API"},
			},
		},
		Commands: []*cli.Command{
			addCommand(),
			{
				Name:      "status",
				Usage:     "show active jobs, or one job by id",
				ArgsUsage: "[job_id]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "refresh until no job is active"},
					&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "refresh interval"},
				},
				Action: withClient(cmdStatus),
			},
			{
				Name:      "cancel",
				Usage:     "cancel a running job",
				ArgsUsage: "<job_id>",
				Action: withClient(func(c *client, ctx *cli.Context) error {
					id, err := requireArg(ctx, "job_id")
					if err != nil {
						return err
					}
					var resp struct {
						Applied bool `json:"applied"`
					}
					if err := c.postJSON("/api/cancel", map[string]string{"id": id}, &resp); err != nil {
						return err
					}
					if !resp.Applied {
						fmt.Println(mutedStyle.Render("job was not running"))
						return nil
					}
					fmt.Println(okStyle.Render("cancelled"))
					return nil
				}),
			},
			{
				Name:  "library",
				Usage: "list finished clips",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "profile", Usage: "only clips of this profile"},
					&cli.BoolFlag{Name: "json", Usage: "print raw JSON"},
				},
				Action: withClient(func(c *client, ctx *cli.Context) error {
					path := "/api/library"
					if p := ctx.String("profile"); p != "" {
						path += "?profile=" + url.QueryEscape(p)
					}
					var clips []library.Clip
					if err := c.getJSON(path, &clips); err != nil {
						return err
					}
					if ctx.Bool("json") {
						return printJSON(clips)
					}
					printClips(os.Stdout, clips, time.Now())
					return nil
				}),
			},
			{
				Name:      "update",
				Usage:     "edit clip metadata",
				ArgsUsage: "<clip_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Usage: "custom title"},
					&cli.StringFlag{Name: "tags", Usage: "comma separated tags"},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "group"},
					&cli.StringFlag{Name: "profile"},
				},
				Action: withClient(cmdUpdate),
			},
			{
				Name:      "rm",
				Aliases:   []string{"delete", "remove"},
				Usage:     "delete a clip and its files",
				ArgsUsage: "<clip_id>",
				Action: withClient(func(c *client, ctx *cli.Context) error {
					id, err := requireArg(ctx, "clip_id")
					if err != nil {
						return err
					}
					if err := c.postJSON("/api/delete", map[string]string{"id": id}, nil); err != nil {
						return err
					}
					fmt.Println(okStyle.Render("deleted"))
					return nil
				}),
			},
			{
				Name:  "settings",
				Usage: "show tags and profiles",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "profile", Usage: "switch the current profile"},
				},
				Action: withClient(cmdSettings),
			},
			{
				Name:      "analyze",
				Usage:     "print yt-dlp metadata for a URL",
				ArgsUsage: "<url>",
				Action: withClient(func(c *client, ctx *cli.Context) error {
					u, err := requireArg(ctx, "url")
					if err != nil {
						return err
					}
					var raw json.RawMessage
					if err := c.postJSON("/api/analyze", map[string]string{"url": u}, &raw); err != nil {
						return err
					}
					return printJSON(raw)
				}),
			},
			{
				Name:      "check",
				Usage:     "check whether a source URL is still available",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "record the result on this clip"},
					&cli.BoolFlag{Name: "refresh", Usage: "ignore a cached answer"},
				},
				Action: withClient(func(c *client, ctx *cli.Context) error {
					u, err := requireArg(ctx, "url")
					if err != nil {
						return err
					}
					var resp struct {
						Available bool `json:"available"`
					}
					payload := map[string]any{"url": u, "id": ctx.String("id"), "refresh": ctx.Bool("refresh")}
					if err := c.postJSON("/api/check_source", payload, &resp); err != nil {
						return err
					}
					if resp.Available {
						fmt.Println(okStyle.Render("available"))
					} else {
						fmt.Println(errorStyle.Render("unavailable"))
					}
					return nil
				}),
			},
			{
				Name:  "history",
				Usage: "list past jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "filter by status"},
					&cli.IntFlag{Name: "limit", Value: 50},
				},
				Action: withClient(func(c *client, ctx *cli.Context) error {
					q := url.Values{}
					if s := ctx.String("status"); s != "" {
						q.Set("status", s)
					}
					q.Set("limit", strconv.Itoa(ctx.Int("limit")))
					var jobs []queue.HistoryView
					if err := c.getJSON("/api/jobs?"+q.Encode(), &jobs); err != nil {
						return err
					}
					printHistory(os.Stdout, jobs, time.Now())
					return nil
				}),
			},
			{
				Name:      "logs",
				Usage:     "show recorded events of a job",
				ArgsUsage: "<job_id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "tail", Value: 50, Usage: "number of lines"},
				},
				Action: withClient(func(c *client, ctx *cli.Context) error {
					id, err := requireArg(ctx, "job_id")
					if err != nil {
						return err
					}
					var lines []string
					path := fmt.Sprintf("/api/jobs/%s/events?limit=%d", url.PathEscape(id), ctx.Int("tail"))
					if err := c.getJSON(path, &lines); err != nil {
						return err
					}
					for i := len(lines) - 1; i >= 0; i-- {
						fmt.Println(lines[i])
					}
					return nil
				}),
			},
			{
				Name:  "clear",
				Usage: "forget finished jobs in the history",
				Action: withClient(func(c *client, ctx *cli.Context) error {
					if err := c.postJSON("/api/jobs/clear", map[string]any{}, nil); err != nil {
						return err
					}
					fmt.Println(okStyle.Render("ok"))
					return nil
				}),
			},
			{
				Name:  "health",
				Usage: "show daemon version and tool availability",
				Action: withClient(func(c *client, ctx *cli.Context) error {
					var h struct {
						Status  string       `json:"status"`
						Version string       `json:"version"`
						Active  int          `json:"active"`
						Tools   []probe.Tool `json:"tools"`
					}
					if err := c.getJSON("/api/health", &h); err != nil {
						return err
					}
					fmt.Printf("cli:     %s\n", versionString())
					fmt.Printf("server:  %s (%s)\n", h.Version, styleHealth(h.Status))
					fmt.Printf("active:  %d\n", h.Active)
					for _, t := range h.Tools {
						state := okStyle.Render(t.Path)
						if !t.Found {
							state = errorStyle.Render("not found")
						}
						fmt.Printf("  %-8s %s\n", t.Name, state)
					}
					return nil
				}),
			},
		},
	}
}

func withClient(f func(*client, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		return f(newClient(ctx.String("api")), ctx)
	}
}

func requireArg(ctx *cli.Context, name string) (string, error) {
	if ctx.NArg() < 1 || ctx.Args().First() == "" {
		return "", fmt.Errorf("missing argument <%s>", name)
	}
	return ctx.Args().First(), nil
}

func cmdStatus(c *client, ctx *cli.Context) error {
	interval := ctx.Duration("interval")
	if interval <= 0 {
		interval = time.Second
	}
	path := "/api/status"
	if id := ctx.Args().First(); id != "" {
		path += "/" + url.PathEscape(id)
	}
	for {
		var jobs []queue.JobStatus
		if path == "/api/status" {
			if err := c.getJSON(path, &jobs); err != nil {
				return err
			}
		} else {
			var st queue.JobStatus
			if err := c.getJSON(path, &st); err != nil {
				return err
			}
			jobs = []queue.JobStatus{st}
		}
		if ctx.Bool("watch") {
			fmt.Print("\033[H\033[2J")
		}
		printJobs(os.Stdout, jobs)
		if !ctx.Bool("watch") || !hasActiveJobs(jobs) {
			return nil
		}
		select {
		case <-ctx.Context.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func cmdUpdate(c *client, ctx *cli.Context) error {
	id, err := requireArg(ctx, "clip_id")
	if err != nil {
		return err
	}
	payload := map[string]string{"id": id}
	for flag, key := range map[string]string{
		"title":       "custom_title",
		"tags":        "tags",
		"description": "description",
		"group":       "group_id",
		"profile":     "profile_id",
	} {
		if ctx.IsSet(flag) {
			payload[key] = ctx.String(flag)
		}
	}
	if len(payload) == 1 {
		return fmt.Errorf("nothing to update")
	}
	var resp struct {
		Clip library.Clip `json:"clip"`
	}
	if err := c.postJSON("/api/update", payload, &resp); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", okStyle.Render("updated"), resp.Clip.DisplayTitle())
	return nil
}

func cmdSettings(c *client, ctx *cli.Context) error {
	var s api.SettingsData
	if err := c.getJSON("/api/settings", &s); err != nil {
		return err
	}
	if p := ctx.String("profile"); p != "" {
		s.CurrentProfile = p
		if err := c.postJSON("/api/settings", s, nil); err != nil {
			return err
		}
	}
	fmt.Println(headerStyle.Render("Profiles"))
	for _, p := range s.Profiles {
		marker := " "
		if p.ID == s.CurrentProfile {
			marker = okStyle.Render("*")
		}
		fmt.Printf(" %s %s %s\n", marker, p.ID, mutedStyle.Render(p.Name))
	}
	fmt.Println(headerStyle.Render("Tags"))
	for _, t := range s.Tags {
		fmt.Printf("   %s\n", t)
	}
	return nil
}

func styleHealth(status string) string {
	if status == "ok" {
		return okStyle.Render(status)
	}
	return warnStyle.Render(status)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Printf("%s\n", data)
	return nil
}

func versionString() string {
	if version == "" {
		return "dev"
	}
	return version
}

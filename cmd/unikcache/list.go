package main

import (
	"encoding/json"
	"fmt"
	"time"

	cli "github.com/urfave/cli/v2"
)

var cmdList = &cli.Command{
	Name:     "list",
	Usage:    "print the image cache index",
	HideHelp: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "show output in the JSON format"},
	},
	Action: func(c *cli.Context) error {
		appConf, err := loadConfig(c)
		if err != nil {
			return err
		}

		entries, err := newImageCache(appConf).List()
		if err != nil {
			return err
		}

		if c.Bool("json") {
			type jsonEntry struct {
				Filename  string    `json:"filename"`
				ImageID   string    `json:"image_id"`
				UserID    string    `json:"user_id,omitempty"`
				ProjectID string    `json:"project_id,omitempty"`
				Size      int64     `json:"size"`
				LastUsed  time.Time `json:"last_used"`
			}

			out := make([]jsonEntry, 0, len(entries))

			for _, e := range entries {
				out = append(out, jsonEntry{e.Filename, e.ImageID, e.UserID, e.ProjectID, e.Size, e.LastUsed})
			}

			b, err := json.MarshalIndent(out, "", "    ")
			if err != nil {
				return err
			}

			fmt.Printf("%s\n", b)

			return nil
		}

		fmt.Printf("%-42s%-32s%-14s%-14s%12s  %s\n", "File", "Image", "User", "Project", "Size(MiB)", "Last used")

		for _, e := range entries {
			f := "---"
			user, project := f, f

			if len(e.UserID) > 0 {
				user = e.UserID
			}
			if len(e.ProjectID) > 0 {
				project = e.ProjectID
			}

			fmt.Printf(
				"%-42s%-32s%-14s%-14s%12d  %s\n",
				e.Filename,
				e.ImageID,
				user,
				project,
				e.Size>>20,
				e.LastUsed.Format("2006-01-02 15:04:05"),
			)
		}

		return nil
	},
}

var cmdForget = &cli.Command{
	Name:      "forget",
	Usage:     "remove files from the image cache index (the files are kept)",
	ArgsUsage: "FILENAME [FILENAME...]",
	HideHelp:  true,
	Action: func(c *cli.Context) error {
		if c.Args().Len() == 0 {
			cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
		}

		appConf, err := loadConfig(c)
		if err != nil {
			return err
		}

		cache := newImageCache(appConf)

		for _, fname := range c.Args().Slice() {
			ok, err := cache.Forget(fname)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Not found:", fname)
				continue
			}
			fmt.Println("Forgotten:", fname)
		}

		return nil
	},
}

var cmdEnvelope = &cli.Command{
	Name:     "envelope",
	Usage:    "set up the resource envelope of builds and show its limits",
	HideHelp: true,
	Action: func(c *cli.Context) error {
		ctx, cancel := signalContext()
		defer cancel()

		appConf, err := loadConfig(c)
		if err != nil {
			return err
		}

		env, err := newEnvelope(ctx, appConf)
		if err != nil {
			return err
		}
		defer env.Close()

		fmt.Println("Builds are confined to", env)

		return nil
	},
}

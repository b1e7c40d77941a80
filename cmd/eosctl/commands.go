package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/eosctl/internal/hw/device"
	"github.com/cjeanneret/eosctl/internal/logic/capture"
	"github.com/cjeanneret/eosctl/internal/session"
)

// printSetting renders one parameter report. Rejections are printed, not
// returned: the camera state is unchanged and the command still succeeds.
func printSetting(out io.Writer, name string, st session.Setting) {
	switch {
	case st.Rejected:
		fmt.Fprintf(out, "%s: rejected: %s\n", name, st.Message)
		if st.Value != "" {
			fmt.Fprintf(out, "  current: %s\n", st.Value)
		}
	case st.Value != "":
		fmt.Fprintf(out, "%s: %s\n", name, st.Value)
		if st.Message != "" {
			fmt.Fprintf(out, "  note: %s\n", st.Message)
		}
	case st.Message != "":
		fmt.Fprintf(out, "%s: %s\n", name, st.Message)
	}
	if len(st.Choices) > 0 {
		fmt.Fprintf(out, "  choices: %s\n", strings.Join(st.Choices, ", "))
	}
}

func printResult(out io.Writer, res capture.Result) {
	status := "ok"
	if !res.Success {
		status = "failed"
	}
	fmt.Fprintf(out, "%s: %s\n", status, res.Message)
	if res.FilePath != "" {
		fmt.Fprintf(out, "  file: %s\n", res.FilePath)
	}
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show mode, body and exposure parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				fmt.Fprintf(out, "session: %s\n", s.ID())
				fmt.Fprintf(out, "mode: %s\n", s.Mode())
				for _, name := range []string{"cameramodel", "batterylevel"} {
					st, err := s.GetConfig(name)
					if err != nil {
						return err
					}
					if !st.Rejected {
						fmt.Fprintf(out, "%s: %s\n", name, st.Value)
					}
				}
				p, err := s.GetCaptureParameters()
				if err != nil {
					return err
				}
				printParameters(out, p)
				return nil
			})
		},
	}
}

func printParameters(out io.Writer, p session.Parameters) {
	for _, f := range []struct {
		name string
		st   session.Setting
	}{
		{"aperture", p.Aperture},
		{"shutterspeed", p.ShutterSpeed},
		{"iso", p.ISO},
		{"continuousaf", p.ContinuousAF},
	} {
		st := f.st
		st.Choices = nil
		printSetting(out, f.name, st)
	}
}

// dumpEntry is one configuration as written by "config dump".
type dumpEntry struct {
	Name     string   `yaml:"name"`
	Label    string   `yaml:"label,omitempty"`
	Type     string   `yaml:"type"`
	Value    string   `yaml:"value"`
	ReadOnly bool     `yaml:"read_only,omitempty"`
	Choices  []string `yaml:"choices,omitempty"`
}

func dumpTree(tree *device.Widget) []dumpEntry {
	var entries []dumpEntry
	tree.Walk(func(w *device.Widget) {
		if w.IsContainer() {
			return
		}
		entries = append(entries, dumpEntry{
			Name:     w.Name,
			Label:    w.Label,
			Type:     w.Type.String(),
			Value:    w.Value,
			ReadOnly: w.ReadOnly,
			Choices:  w.Choices,
		})
	})
	return entries
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Raw access to the body's configuration widgets",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every configuration name",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					names, err := s.ListAllConfig()
					if err != nil {
						return err
					}
					for _, n := range names {
						fmt.Fprintln(out, n)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "get NAME",
			Short: "Show a configuration value and its choices",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					st, err := s.GetConfig(args[0])
					if err != nil {
						return err
					}
					printSetting(out, args[0], st)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set NAME VALUE",
			Short: "Write a literal value to a configuration",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					st, err := s.SetConfig(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					st.Choices = nil
					printSetting(out, args[0], st)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "dump",
			Short: "Write the whole configuration tree as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					tree, err := s.Snapshot()
					if err != nil {
						return err
					}
					enc := yaml.NewEncoder(out)
					enc.SetIndent(2)
					if err := enc.Encode(dumpTree(tree)); err != nil {
						return fmt.Errorf("encode yaml: %w", err)
					}
					return enc.Close()
				})
			},
		},
		&cobra.Command{
			Use:   "effective",
			Short: "Print the eosctl configuration in use (file, env and flags applied)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := yaml.Marshal(a.cfg)
				if err != nil {
					return fmt.Errorf("marshal yaml: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
	)
	return cmd
}

func (a *app) paramsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Exposure parameters (closest supported value is used)",
	}

	var p session.CaptureParameters
	var format string
	set := &cobra.Command{
		Use:   "set",
		Short: "Set aperture, shutter speed, ISO, continuous AF or image format",
		Example: `  eosctl params set --aperture 5.6 --shutter 1/125 --iso AUTO
  eosctl params set --format 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if p == (session.CaptureParameters{}) && format == "" {
				return fmt.Errorf("nothing to set, see --help")
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				got, err := s.SetCaptureParameters(ctx, p)
				if err != nil {
					return err
				}
				printParameters(out, got)
				if format != "" {
					st, err := s.SetImageFormat(ctx, format)
					if err != nil {
						return err
					}
					st.Choices = nil
					printSetting(out, "imageformat", st)
				}
				return nil
			})
		},
	}
	set.Flags().StringVar(&p.Aperture, "aperture", "", "f-number, e.g. 5.6 or AUTO")
	set.Flags().StringVar(&p.ShutterSpeed, "shutter", "", "exposure time, e.g. 1/125, 0.5 or AUTO")
	set.Flags().StringVar(&p.ISO, "iso", "", "sensitivity, e.g. 400 or AUTO (PHOTO mode)")
	set.Flags().StringVar(&p.ContinuousAF, "caf", "", "continuous autofocus: on or off")
	set.Flags().StringVar(&format, "format", "", "image format, full label or index (PHOTO mode)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show exposure parameters with their choices",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					got, err := s.GetCaptureParameters()
					if err != nil {
						return err
					}
					printSetting(out, "aperture", got.Aperture)
					printSetting(out, "shutterspeed", got.ShutterSpeed)
					printSetting(out, "iso", got.ISO)
					printSetting(out, "continuousaf", got.ContinuousAF)
					return nil
				})
			},
		},
		set,
		&cobra.Command{
			Use:   "formats",
			Short: "List image formats (PHOTO mode)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					st, err := s.ImageFormats()
					if err != nil {
						return err
					}
					printSetting(out, "imageformat", st)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "manual",
			Short: "Select the Fv exposure mode (PHOTO mode)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					st, err := s.SetExposureManual(ctx)
					if err != nil {
						return err
					}
					printSetting(out, "autoexposuremodedial", st)
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *app) afCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "af",
		Short: "Autofocus (PHOTO mode)",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "trigger",
			Short: "Run the autofocus once",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					st, err := s.TriggerAF(ctx)
					if err != nil {
						return err
					}
					printSetting(out, "af", st)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "point X Y",
			Short: "Move the AF point to sensor pixel (X, Y)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				x, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("x: %w", err)
				}
				y, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("y: %w", err)
				}
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					st, err := s.SetAFLocation(ctx, x, y)
					if err != nil {
						return err
					}
					printSetting(out, "afpoint", st)
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *app) focusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "focus STEP",
		Short: "Drive manual focus one step: 0-2 nearer, 3 none, 4-6 further",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("step: %w", err)
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				st, err := s.ManualFocus(ctx, step)
				if err != nil {
					return err
				}
				st.Choices = nil
				printSetting(out, "manualfocusdrive", st)
				return nil
			})
		},
	}
}

func (a *app) captureCommand() *cobra.Command {
	var opts session.ImageOptions
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Take one still (PHOTO mode)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				res, err := s.CaptureImage(ctx, opts)
				if err != nil {
					return err
				}
				printResult(out, res)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.Download, "download", "d", true, "download the file once the body announces it")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "download directory (default capture.download_dir)")
	cmd.Flags().BoolVar(&opts.Autofocus, "af", false, "run the autofocus before releasing")
	return cmd
}

func (a *app) burstCommand() *cobra.Command {
	var hold time.Duration
	cmd := &cobra.Command{
		Use:   "burst",
		Short: "Shoot continuously while holding the trigger (PHOTO mode)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hold <= 0 {
				hold = a.cfg.BurstHold()
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				res, err := s.CaptureBurst(ctx, hold)
				if err != nil {
					return err
				}
				status := "ok"
				if !res.Success {
					status = "failed"
				}
				fmt.Fprintf(out, "%s: %s (%d files)\n", status, res.Message, len(res.Files))
				for _, f := range res.Files {
					fmt.Fprintf(out, "  %s\n", f)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&hold, "hold", 0, "trigger hold time (default capture.burst_hold_ms)")
	return cmd
}

func (a *app) previewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview [TARGET]",
		Short: "Save one live-view frame as JPEG (PHOTO mode)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				res, err := s.CapturePreview(ctx, target)
				if err != nil {
					return err
				}
				printResult(out, res)
				return nil
			})
		},
	}
}

func (a *app) previewVideoCommand() *cobra.Command {
	var opts capture.PreviewOptions
	cmd := &cobra.Command{
		Use:   "preview-video",
		Short: "Record live-view frames to a video file on this host (PHOTO mode)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Duration <= 0 {
				opts.Duration = a.cfg.PreviewDuration()
			}
			if opts.Target == "" {
				opts.Target = a.cfg.Capture.PreviewTarget
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				res, err := s.RecordPreviewVideo(ctx, opts)
				if err != nil {
					return err
				}
				printResult(out, res)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "recording length (default capture.preview_seconds)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "output file, overwritten (default capture.preview_target)")
	cmd.Flags().BoolVar(&opts.ResolutionPriority, "resolution-priority", false, "record in movie mode (1024x576, ~25fps) instead of the fastest live view")
	return cmd
}

func (a *app) recordCommand() *cobra.Command {
	var opts capture.VideoOptions
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a full-resolution clip to the card (VIDEO mode)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Duration <= 0 {
				opts.Duration = a.cfg.VideoDuration()
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				res, err := s.RecordVideo(ctx, opts)
				if err != nil {
					return err
				}
				printResult(out, res)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "recording length (default capture.video_seconds)")
	cmd.Flags().BoolVarP(&opts.Download, "download", "d", false, "download the clip once the body saved it")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "download directory (default capture.download_dir)")
	return cmd
}

func (a *app) filesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Browse and download files on the card",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [ROOT]",
			Short: "List files below ROOT (default the DCIM folder)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				root := ""
				if len(args) == 1 {
					root = args[0]
				}
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					files, err := s.ListFiles(root)
					if err != nil {
						return err
					}
					for _, f := range files {
						fmt.Fprintln(out, f)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "info PATH",
			Short: "Show size, type and date of a file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					info, err := s.FileInfo(args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: %d bytes, %s, %s\n", args[0], info.Size, info.Type, info.ModTime.Format(time.RFC3339))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "download PATH [TARGET]",
			Short: "Copy a file from the card",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				target := ""
				if len(args) == 2 {
					target = args[1]
				}
				return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
					local, err := s.DownloadFile(args[0], target)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, local)
					return nil
				})
			},
		},
	)
	return cmd
}

func (a *app) syncTimeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-time",
		Short: "Set the body clock to this host's clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				st, err := s.SyncDateTime(ctx)
				if err != nil {
					return err
				}
				printSetting(out, "datetime", st)
				return nil
			})
		},
	}
}

func (a *app) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Return release, recording and drive controls to neutral",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				if err := s.ResetAfterAbort(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "capture controls reset")
				return nil
			})
		},
	}
}

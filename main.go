package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"fyne.io/fyne"
	"fyne.io/fyne/app"
	"fyne.io/fyne/dialog"
	"fyne.io/fyne/layout"
	"fyne.io/fyne/storage"
	"fyne.io/fyne/theme"
	"fyne.io/fyne/widget"
	flag "github.com/spf13/pflag"

	"github.com/mastercactapus/cncstream/config"
	"github.com/mastercactapus/cncstream/connect"
	"github.com/mastercactapus/cncstream/grbl"
	"github.com/mastercactapus/cncstream/machine"
	"github.com/mastercactapus/cncstream/pendant"
)

var errNotConnected = errors.New("controller not connected")

func main() {
	cfgFile := flag.StringP("config", "c", "", "Load configuration from a YAML file.")
	full := flag.Bool("fullscreen", false, "Run in fullscreen.")
	transport := flag.String("transport", "", "Controller transport (serial, spjs, sim).")
	spjsURL := flag.String("spjs", "", "Set the SPJS connection URL.")
	jobDir := flag.String("jobs", "", "Directory shown when loading a job.")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err == nil {
		if *transport != "" {
			cfg.Transport = *transport
		}
		if *spjsURL != "" {
			cfg.SPJS.URL = *spjsURL
		}
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
	log, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if *jobDir == "" {
		*jobDir, _ = os.UserHomeDir()
	}

	ctx := context.Background()
	dialer := connect.NewDialer(cfg, log)
	defer dialer.Close()

	var ctrlPtr atomic.Pointer[machine.Controller]
	var pendantOK atomic.Bool
	withCtrl := func(fn func(*machine.Controller) error) error {
		ctrl := ctrlPtr.Load()
		if ctrl == nil {
			return errNotConnected
		}
		return fn(ctrl)
	}

	a := app.New()

	ui := newUIState()
	var refreshFns []func(st machine.ControllerStatus, jobSt machine.JobStatus)
	refresh := func(s snapshot) {
		for _, fn := range refreshFns {
			fn(s.status, s.job)
		}
	}

	w := a.NewWindow("CNC Stream")
	w.Resize(fyne.NewSize(800, 480))
	w.SetFixedSize(true)
	if *full {
		w.SetFullScreen(true)
	}
	showErr := func(err error) {
		if err != nil {
			dialog.ShowError(err, w)
		}
	}

	connected := make(chan *machine.Controller, 1)
	go func() {
		wait := dialog.NewProgressInfinite("Connecting to GRBL", "The CNC controller board (GRBL) is not connected...", w)
		ctrl, err := openController(ctx, dialer, cfg, log)
		wait.Hide()
		if err != nil {
			log.Error("connect controller", "err", err)
			dialog.ShowError(err, w)
			return
		}
		ctrlPtr.Store(ctrl)
		connected <- ctrl

		if !cfg.Pendant.Enabled() {
			return
		}
		link, err := dialer.Pendant(ctx)
		if err != nil {
			log.Error("connect pendant", "err", err)
			return
		}
		p := pendant.New(ctrl, link, log)
		link.SetNotify(func() {
			err := p.DataAvailable()
			if err != nil {
				log.Error("pendant", "err", err)
			}
		})
		pendantOK.Store(true)
	}()

	go func() {
		ctrl := <-connected
		ui.watch(ctrl.Status(), ctrl.JobStatus(), nil, refresh)
	}()

	home := widget.NewButtonWithIcon("", theme.HomeIcon(), func() {
		go dialog.ShowConfirm("Home Machine?", "This will cause the machine to move to it's home position and lose it's work coordinates.", func(proceed bool) {
			if proceed {
				prog := dialog.NewProgressInfinite("Homing Machine", "The machine is now calibrating it's home position, please wait...", w)
				go func() {
					err := withCtrl(func(c *machine.Controller) error { return c.CommandHome(ctx, true) })
					prog.Hide()
					if err != nil {
						go dialog.ShowError(err, w)
					}
				}()
			}
		}, w)
	})
	load := widget.NewButtonWithIcon("", theme.FolderOpenIcon(), func() {
		open := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
			if err != nil {
				log.Error("open job", "err", err)
				return
			}
			if rc == nil {
				return
			}
			err = withCtrl(func(c *machine.Controller) error {
				c.SetJob(rc.Name(), rc)
				return nil
			})
			if err != nil {
				rc.Close()
				dialog.ShowError(err, w)
			}
		}, w)

		lister, err := storage.ListerForURI(storage.NewURI("file://" + *jobDir))
		if err != nil {
			log.Warn("job directory", "dir", *jobDir, "err", err)
		} else {
			open.SetLocation(lister)
		}
		open.SetFilter(storage.NewExtensionFileFilter([]string{".nc", ".gcode", ".ngc"}))
		open.Show()
	})

	runJob := widget.NewButtonWithIcon("", theme.ContentRedoIcon(), func() {
		showErr(withCtrl(func(c *machine.Controller) error { return c.StartJob() }))
	})
	runJob.Disable()
	refreshFns = append(refreshFns, func(st machine.ControllerStatus, jobSt machine.JobStatus) {
		if jobSt.Valid && !jobSt.Active && !jobSt.Done {
			runJob.Enable()
		} else {
			runJob.Disable()
		}
	})
	cycleStart := widget.NewButtonWithIcon("", theme.MediaPlayIcon(), func() {
		showErr(withCtrl(func(c *machine.Controller) error { return c.CommandCycleStart() }))
	})
	feedHold := widget.NewButtonWithIcon("", theme.MediaPauseIcon(), func() {
		showErr(withCtrl(func(c *machine.Controller) error { return c.CommandFeedHold() }))
	})
	resetCancel := widget.NewButtonWithIcon("", theme.MediaReplayIcon(), func() {
		showErr(withCtrl(func(c *machine.Controller) error { return c.CommandReset() }))
	})

	status := widget.NewLabel("GRBL Status: ...")
	pendStatus := widget.NewLabel("Pendant: Not Connected")

	refreshFns = append(refreshFns, func(st machine.ControllerStatus, jobSt machine.JobStatus) {
		status.SetText("GRBL Status: " + st.StatusText())
		pend := "Connected"
		if !pendantOK.Load() {
			pend = "Not Connected"
		}
		pendStatus.SetText("Pendant: " + pend)
	})

	actions := fyne.NewContainerWithLayout(layout.NewHBoxLayout(),
		fyne.NewContainerWithLayout(squares{minSide: 64},
			home, load, runJob, cycleStart, feedHold, resetCancel,
		),
		fyne.NewContainerWithLayout(layout.NewVBoxLayout(), status, pendStatus),
	)

	newPos := func() *widget.Label {
		l := widget.NewLabel("     0.000")
		l.Alignment = fyne.TextAlignTrailing
		l.TextStyle.Monospace = true
		return l
	}

	wPosX, wPosY, wPosZ := newPos(), newPos(), newPos()
	mPosX, mPosY, mPosZ := newPos(), newPos(), newPos()
	refreshFns = append(refreshFns, func(st machine.ControllerStatus, jobSt machine.JobStatus) {
		set := func(l *widget.Label, v float64) { l.SetText(fmt.Sprintf("%10.3f", v)) }
		wpos := st.WorkPosition()
		mpos := st.MachinePosition()
		set(wPosX, wpos.X)
		set(wPosY, wpos.Y)
		set(wPosZ, wpos.Z)
		set(mPosX, mpos.X)
		set(mPosY, mpos.Y)
		set(mPosZ, mpos.Z)
	})

	wpos := widget.NewLabel("WPos")
	wpos.Alignment = fyne.TextAlignTrailing
	mpos := widget.NewLabel("MPos")
	mpos.Alignment = fyne.TextAlignTrailing

	zero := func(axis rune) *widget.Button {
		return widget.NewButton(string(axis)+"=0", func() {
			go func() {
				showErr(withCtrl(func(c *machine.Controller) error { return c.SetWPos(ctx, axis, 0) }))
			}()
		})
	}

	posRead := fyne.NewContainerWithLayout(layout.NewGridLayout(4),
		wpos, wPosX, wPosY, wPosZ,

		mpos, mPosX, mPosY, mPosZ,

		widget.NewLabel(""), zero('X'), zero('Y'), zero('Z'),
	)

	centerLabel := func(text string) fyne.CanvasObject {
		label := widget.NewLabel(text)
		label.Alignment = fyne.TextAlignCenter
		return widget.NewVBox(layout.NewSpacer(), label, layout.NewSpacer())
	}

	zUp := widget.NewButtonWithIcon("", theme.MoveUpIcon(), nil)
	zDn := widget.NewButtonWithIcon("", theme.MoveDownIcon(), nil)

	mult := "10"
	sel := widget.NewRadioGroup([]string{
		"100", "10", "1", "0.1", "0.01", "0.001",
	}, nil)
	sel.OnChanged = func(val string) {
		if val == "" {
			sel.SetSelected(mult)
			return
		}
		mult = val
		if val == "100" {
			zUp.Disable()
			zDn.Disable()
		} else {
			zUp.Enable()
			zDn.Enable()
		}
	}
	sel.SetSelected("10")

	makeMove := func(axis rune, invert bool) func() {
		return func() {
			val, err := strconv.ParseFloat(mult, 64)
			if err != nil {
				panic(err)
			}
			if invert {
				val = -val
			}
			showErr(withCtrl(func(c *machine.Controller) error { return c.CommandJog(ctx, axis, val, false) }))
		}
	}
	zUp.OnTapped = makeMove('Z', false)
	zDn.OnTapped = makeMove('Z', true)

	touchPendant := fyne.NewContainerWithLayout(squares{cols: 5, minSide: 64},
		zUp, layout.NewSpacer(), layout.NewSpacer(), widget.NewButtonWithIcon("", theme.MoveUpIcon(), makeMove('Y', false)), layout.NewSpacer(),
		centerLabel("Z"), layout.NewSpacer(), widget.NewButtonWithIcon("<", nil, makeMove('X', true)), centerLabel("XY"), widget.NewButtonWithIcon(">", nil, makeMove('X', false)),
		zDn, layout.NewSpacer(), layout.NewSpacer(), widget.NewButtonWithIcon("", theme.MoveDownIcon(), makeMove('Y', true)), layout.NewSpacer(),
	)

	pos := fyne.NewContainerWithLayout(
		layout.NewHBoxLayout(),
		sel, touchPendant, layout.NewSpacer(), posRead,
	)

	jobStatus := widget.NewLabel("No active job.")
	jobProgress := widget.NewProgressBar()
	jobProgress.TextFormatter = func() string {
		jobSt := ui.get().job
		if !jobSt.Valid {
			return "No job loaded."
		}
		pct := jobSt.Progress() * 100
		if jobSt.ReadComplete {
			return fmt.Sprintf("%.f%% (%d of %d)", pct, jobSt.Completed, jobSt.Read)
		}

		return fmt.Sprintf("%.f%% (%d of %d+)", pct, jobSt.Completed, jobSt.Read)
	}
	refreshFns = append(refreshFns, func(st machine.ControllerStatus, jobSt machine.JobStatus) {
		if !jobSt.Valid {
			jobStatus.SetText("No active job.")
			jobProgress.SetValue(0)
			return
		}

		msg := fmt.Sprintf("Job: %s", jobSt.Name)
		switch {
		case jobSt.Err != nil:
			msg += " (error: " + jobSt.Err.Error() + ")"
		case jobSt.Done:
			msg += " (done)"
		case !jobSt.Active:
			msg += " (ready)"
		}
		jobStatus.SetText(msg)
		jobProgress.SetValue(jobSt.Progress())
	})

	grp := widget.NewGroup("Job",
		fyne.NewContainerWithLayout(layout.NewHBoxLayout(), jobStatus),
		jobProgress,
	)
	w.SetContent(fyne.NewContainerWithLayout(
		layout.NewVBoxLayout(), actions, pos,
		layout.NewSpacer(),
		grp,
	))

	log.Info("launch", "transport", cfg.Transport)
	w.ShowAndRun()
}

// openController connects to the GRBL controller and starts status polling.
func openController(ctx context.Context, dialer *connect.Dialer, cfg config.Config, log *slog.Logger) (*machine.Controller, error) {
	link, err := dialer.Controller(ctx)
	if err != nil {
		return nil, err
	}

	ctrl, err := machine.NewController(link, grbl.New(), machine.Options{
		Logger:         log,
		BufferSize:     cfg.Stream.BufferSize,
		LineTerminator: cfg.Stream.LineTerminator,
	})
	if err != nil {
		link.Close()
		return nil, err
	}
	link.SetNotify(func() {
		err := ctrl.DataAvailable()
		if err != nil {
			log.Error("controller data", "err", err)
		}
	})

	if cfg.StatusInterval > 0 {
		go func() {
			err := ctrl.Poll(ctx, cfg.StatusInterval)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("status poll", "err", err)
			}
		}()
	}

	return ctrl, nil
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"nutriscan/backend"
	"nutriscan/beep"
	"nutriscan/camera"
	"nutriscan/log"
	"nutriscan/publish"
	"nutriscan/scan"
)

// testSubscriberBuffer holds every transition a scripted run can produce
// between two reads of the printer.
const testSubscriberBuffer = 4096

type testOptions struct {
	Camera    camera.Config
	Client    *backend.Client
	AMQPURL   string
	Facing    camera.Facing
	Single    bool
	Mode      backend.Mode
	NoBackend bool
}

// runTestMode drives a fake camera from stdin commands, one per line:
//
//	START [facing]  CAPTURE  STOP  WAIT  SLEEP ms
//	HOLD  GRANT  DENY  QUIT
//
// HOLD leaves access requests pending until GRANT or DENY answers them.
// Results are printed to stdout for the integration tests to match.
func runTestMode(opts testOptions) {
	beep.Disable()

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	fd := camera.NewFakeDevices()
	cfg := opts.Camera
	cfg.Permissions = &camera.PermissionCache{}
	tctrl := camera.NewController(fd, camera.NewFrameSink(), cfg)

	var scanner backend.Scanner = opts.Client
	if opts.NoBackend {
		scanner = backend.NewFake()
	}

	var pub publish.Publisher
	if opts.AMQPURL != "" {
		p, err := publish.Dial(opts.AMQPURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: not publishing scans: %v\n", err)
		} else {
			pub = p
			defer p.Close()
		}
	}
	p := scan.New(tctrl, backend.NewAnalyzer(scanner), pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for tr := range tctrl.SubscribeBuffered(testSubscriberBuffer) {
			line := "status: " + tr.To.String()
			if tr.Err != nil {
				line += " " + tr.Err.Kind.String()
			}
			fmt.Println(line)
		}
	}()

	log.SessionStart("fake", string(opts.Facing), "test")

	var pending sync.WaitGroup
	facing := opts.Facing

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "START":
			if len(fields) > 1 {
				facing = camera.ParseFacing(fields[1])
			}
			pending.Add(1)
			go func(f camera.Facing) {
				defer pending.Done()
				s, err := tctrl.StartCapture(ctx, f)
				if err != nil {
					if !errors.Is(err, camera.ErrCancelled) {
						fmt.Printf("error: %v\n", err)
					}
					return
				}
				fmt.Printf("started: %s %s\n", s.ID, s.Settings().DeviceID)
			}(facing)

		case "CAPTURE":
			pending.Add(1)
			go func() {
				defer pending.Done()
				res, err := p.Run(ctx, tctrl.Current(), opts.Mode, opts.Single)
				if err != nil {
					fmt.Printf("error: %v\n", err)
					return
				}
				fmt.Printf("frame: %dx%d %d bytes\n", res.Frame.Width, res.Frame.Height, len(res.Frame.Data))
				if res.Analysis != nil {
					fmt.Printf("scan: %s %s\n", res.Analysis.Source, res.Analysis.Summary())
				}
			}()

		case "STOP":
			tctrl.StopCapture(tctrl.Current())

		case "WAIT":
			pending.Wait()

		case "SLEEP":
			if len(fields) > 1 {
				if ms, err := strconv.Atoi(fields[1]); err == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}

		case "HOLD":
			fd.Hold()
		case "GRANT":
			fd.SetPermission(camera.PermissionGranted)
			fd.Resolve(nil)
		case "DENY":
			fd.SetPermission(camera.PermissionDenied)
			fd.Resolve(os.ErrPermission)

		case "QUIT":
			finish(tctrl, &pending, printed, p)
			return

		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", fields[0])
		}
	}
	finish(tctrl, &pending, printed, p)
}

// finish waits for in-flight commands, then closes the controller so the
// transition printer drains before the session is logged as ended.
func finish(c *camera.Controller, pending *sync.WaitGroup, printed <-chan struct{}, p *scan.Pipeline) {
	pending.Wait()
	c.Close()
	<-printed
	log.SessionEnd(p.Scans())
}

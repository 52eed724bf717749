// Command xhostsrv opens a session against a detector and exposes it over
// HTTP, optionally recording acquired frames to FITS.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"goji.io"
	yml "gopkg.in/yaml.v2"

	"github.com/Odhiambo-20/XImage/calfile"
	"github.com/Odhiambo-20/XImage/control"
	"github.com/Odhiambo-20/XImage/correction"
	"github.com/Odhiambo-20/XImage/detector"
	"github.com/Odhiambo-20/XImage/factory"
	"github.com/Odhiambo-20/XImage/frame"
	"github.com/Odhiambo-20/XImage/grab"
	"github.com/Odhiambo-20/XImage/recorder"
	"github.com/Odhiambo-20/XImage/sink"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "xhostsrv.yml"
	k              = koanf.New(".")
)

// Config holds the initialization parameters for the server
type Config struct {
	// Addr is the listen address for the HTTP interface
	Addr string `koanf:"addr" yaml:"addr"`

	// Detector addresses the device to open
	Detector DetectorSetup `koanf:"detector" yaml:"detector"`

	// LinesPerFrame groups the line stream into frames of this many lines
	LinesPerFrame int `koanf:"lines_per_frame" yaml:"lines_per_frame"`

	// HeaderMode is true when the firmware sends per-line headers
	HeaderMode bool `koanf:"header_mode" yaml:"header_mode"`

	// RecordRoot, when nonempty, turns on FITS recording below this folder
	RecordRoot string `koanf:"record_root" yaml:"record_root"`

	// RecordPrefix is the recorded filename prefix
	RecordPrefix string `koanf:"record_prefix" yaml:"record_prefix"`

	// CalibrationFile, when nonempty, loads offset/gain/baseline tables and
	// corrects every completed frame before it reaches the recorder
	CalibrationFile string `koanf:"calibration_file" yaml:"calibration_file"`
}

// DetectorSetup addresses one device in the config file
type DetectorSetup struct {
	IP         string `koanf:"ip" yaml:"ip"`
	CmdPort    uint16 `koanf:"cmd_port" yaml:"cmd_port"`
	ImgPort    uint16 `koanf:"img_port" yaml:"img_port"`
	PixelCount uint32 `koanf:"pixel_count" yaml:"pixel_count"`
	PixelDepth uint8  `koanf:"pixel_depth" yaml:"pixel_depth"`
}

func defaults() Config {
	return Config{
		Addr: ":8000",
		Detector: DetectorSetup{
			IP:         detector.DefaultIP,
			CmdPort:    detector.DefaultCmdPort,
			ImgPort:    detector.DefaultImgPort,
			PixelCount: 4608,
			PixelDepth: detector.DefaultPixelDepth,
		},
		LinesPerFrame: frame.DefaultLinesPerFrame,
		RecordPrefix:  "scan",
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `xhostsrv talks to a line-scan detector and exposes an HTTP interface to it.
This enables a server-client architecture; the clients can leverage the
excellent HTTP libraries for any programming language.

Usage:
	xhostsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `xhostsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration, the server opens the factory-default detector at
192.168.1.2 and serves on :8000.

Routes are served under /detector; GET /detector/health returns the GCU
temperature and humidity.  When record_root is set, every completed frame
lands as a 16-bit FITS file in a dated subfolder.`
	fmt.Println(str)
}

func mkconf() {
	c := defaults()
	data, err := yml.Marshal(c)
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(ConfigFileName, data, 0644); err != nil {
		log.Fatal(err)
	}
	fmt.Println("wrote", ConfigFileName)
}

func conf() {
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	data, err := yml.Marshal(c)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(string(data))
}

func run() {
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}

	fac := factory.New()
	fac.Initialize()
	defer fac.Teardown()

	desc := detector.Descriptor{
		IP:         c.Detector.IP,
		CmdPort:    c.Detector.CmdPort,
		ImgPort:    c.Detector.ImgPort,
		PixelCount: c.Detector.PixelCount,
		PixelDepth: c.Detector.PixelDepth,
	}

	ctrl := control.NewSession()
	ctrl.SetSink(sink.CmdFuncs{
		Error: func(id uint32, msg string) { log.Printf("device error %d: %s", id, msg) },
		Event: func(id uint32, data float32) {
			switch id {
			case sink.EventTemperature:
				log.Printf("GCU temperature %.1f C", data)
			case sink.EventHumidity:
				log.Printf("GCU humidity %.1f %%", data)
			}
		},
	})
	if err := ctrl.Open(desc); err != nil {
		log.Fatalf("could not open detector at %s: %v", desc.CmdAddr(), err)
	}
	fac.Register(ctrl)

	asm := frame.New(c.LinesPerFrame)
	gs := grab.NewSession(asm)
	gs.SetHeader(c.HeaderMode)

	var imgSink sink.ImgSink
	if c.RecordRoot != "" {
		rec := recorder.New(c.RecordRoot, c.RecordPrefix)
		rec.Incr()
		imgSink = sink.ImgFuncs{
			Error: func(id uint32, msg string) { log.Printf("image error %d: %s", id, msg) },
			Frame: func(f sink.FrameView) {
				if err := rec.SaveFrame(f); err != nil {
					log.Printf("frame record failed: %v", err)
				}
			},
		}
	} else {
		imgSink = sink.ImgFuncs{
			Error: func(id uint32, msg string) { log.Printf("image error %d: %s", id, msg) },
		}
	}
	if c.CalibrationFile != "" {
		tables, err := calfile.Load(c.CalibrationFile)
		if err != nil {
			log.Fatalf("could not load calibration from %s: %v", c.CalibrationFile, err)
		}
		fc := correction.NewFrameCorrector(imgSink)
		fc.Tables = tables
		fc.Session = gs
		imgSink = fc
		log.Printf("correcting frames with %dx%d@%d tables", tables.Width, tables.Height, tables.Depth)
	}
	gs.SetSink(imgSink)
	if err := gs.Open(desc, ctrl); err != nil {
		log.Fatalf("could not open image channel: %v", err)
	}
	fac.Register(gs)

	mux := goji.NewMux()
	control.NewHTTPWrapper(ctrl).BindRoutes(mux)

	rt := chi.NewRouter()
	rt.Use(middleware.Logger)
	rt.Mount("/detector", http.StripPrefix("/detector", mux))
	rt.Post("/grab", func(w http.ResponseWriter, r *http.Request) {
		if err := gs.Grab(0); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rt.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		gs.Stop()
		w.WriteHeader(http.StatusOK)
	})
	rt.Post("/snap", func(w http.ResponseWriter, r *http.Request) {
		if err := gs.Snap(30 * time.Second); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		gs.Close()
		ctrl.Close()
		fac.Teardown()
		os.Exit(0)
	}()

	log.Printf("detector %s available via HTTP at %s", desc.CmdAddr(), c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, rt))
}

func main() {
	setupconfig()
	if len(os.Args) < 2 {
		root()
		return
	}
	switch os.Args[1] {
	case "run":
		run()
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		conf()
	case "version":
		fmt.Println("xhostsrv version", Version)
	default:
		root()
	}
}

// Command xdiscover scans a subnet for line-scan detectors and prints what
// answered.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/Odhiambo-20/XImage/adaptor"
	"github.com/Odhiambo-20/XImage/sink"
)

func main() {
	adapterIP := flag.String("adapter", "", "local adapter IP to broadcast from (required)")
	restore := flag.Bool("restore", false, "reset every discovered device to factory defaults")
	flag.Parse()
	if *adapterIP == "" {
		fmt.Fprintln(os.Stderr, "usage: xdiscover -adapter <local-ip> [-restore]")
		os.Exit(2)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " discovering detectors",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}

	a := adaptor.New()
	a.SetSink(sink.CmdFuncs{
		Error: func(id uint32, msg string) {
			log.Printf("error %d: %s", id, msg)
		},
	})
	if err := a.Bind(*adapterIP); err != nil {
		log.Fatal(err)
	}
	if err := a.Open(); err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	spinner.Start()
	n, err := a.Connect()
	spinner.Stop()
	if err != nil {
		log.Fatal(err)
	}
	if n == 0 {
		fmt.Println("no detectors answered")
		return
	}

	fmt.Printf("%-4s %-17s %-16s %-6s %-6s %-12s %-7s %-8s\n",
		"#", "MAC", "IP", "CMD", "IMG", "SERIAL", "PIXELS", "MODULES")
	for i := 0; i < n; i++ {
		d, err := a.Get(i)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%-4d %-17s %-16s %-6d %-6d %-12s %-7d %-8d\n",
			i, d.MACString(), d.IP, d.CmdPort, d.ImgPort, d.SerialNumber, d.PixelCount, d.ModuleCount)
	}

	if *restore {
		fmt.Println("restoring factory defaults (192.168.1.2, 3000/4001)...")
		if err := a.Restore(); err != nil {
			log.Fatal(err)
		}
		fmt.Println("done; rediscover after the devices finish rebooting")
	}
}

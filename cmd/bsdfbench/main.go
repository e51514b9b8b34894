package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "bsdfbench.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `bsdfbench drives a four-axis goniometer and a color camera to measure the
bidirectional scattering distribution of a sample

Usage:
	bsdfbench <command> [args]

Commands:
	run               measure the configured grid and export the results
	serve             expose the bench over HTTP
	darkframe         measure the dark level of the covered sensor
	inspect <file>    report and plot the statistics of a .raw frame
	runs              list the journaled runs
	export <run id>   write the BSDF and error files of a journaled run
	steps             print the number of angles per axis of the configured sweep
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `bsdfbench is amenable to configuration via its .yml file, ` + ConfigFileName + `.
For a primer on YAML, see https://yaml.org/start.html

mkconf writes the current configuration, defaults included, to the file.
conf prints it.

By default the camera is simulated and the stage only records the commands it
is sent, so the whole program can be exercised without hardware.  Set mock to
false and fill in stage.arduino to drive the goniometer; set camera.source to
rawdir and camera.dir to play back captured .raw frames.

sweep.type is one of BRDF (8 to 175 degrees), BTDF (188 to 355 degrees), or
Both (8 to 355 degrees).  sweep.steps holds the step of each axis in degrees.
sweep.dark is either a dark level in counts or "capture", which measures it
from the sensor before the sweep starts; cover the sensor first.

run measures the grid in the foreground; interrupt with ^C to stop after the
current position and keep what has been measured.  serve exposes the camera,
the stage, and the sweep over HTTP at addr; GET /endpoints lists the routes.
The camera and stage routes are locked while a sweep is running.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("bsdfbench version %v\n", Version)
}

func arg(i int, what string) string {
	if len(os.Args) <= i {
		log.Fatalf("missing argument: %s", what)
	}
	return os.Args[i]
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		pversion()
	case "run":
		run(loadconfig())
	case "serve":
		serve(loadconfig())
	case "darkframe":
		darkframe(loadconfig())
	case "inspect":
		inspect(loadconfig(), arg(2, "raw file"))
	case "runs":
		runs(loadconfig())
	case "export":
		export(loadconfig(), arg(2, "run id"))
	case "steps":
		steps(loadconfig())
	default:
		log.Fatal("unknown command")
	}
}

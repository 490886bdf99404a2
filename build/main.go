// Command build holds the project's build tasks. Run with
// "go run ./build <task>".
package main

import (
	"os"
	"os/exec"

	"github.com/goyek/goyek/v2"
)

func run(a *goyek.A, env []string, name string, args ...string) {
	a.Helper()
	a.Log("exec:", name, args)
	cmd := exec.CommandContext(a.Context(), name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), env...)
	if err := cmd.Run(); err != nil {
		a.Error(err)
	}
}

var vet = goyek.Define(goyek.Task{
	Name:  "vet",
	Usage: "Run go vet on all packages, with and without the MQTT bridge",
	Action: func(a *goyek.A) {
		run(a, nil, "go", "vet", "./...")
		run(a, nil, "go", "vet", "-tags", "no_mqtt", "./...")
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "Run the tests with the race detector",
	Action: func(a *goyek.A) {
		run(a, nil, "go", "test", "-race", "./...")
	},
})

var windows = goyek.Define(goyek.Task{
	Name:  "windows",
	Usage: "Cross-compile winmaint.exe for windows/amd64",
	Action: func(a *goyek.A) {
		run(a, []string{"GOOS=windows", "GOARCH=amd64"}, "go", "build", "-o", "bin/winmaint.exe", "./cmd/winmaint")
	},
})

var _ = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "vet, test and cross-compile",
	Deps:  goyek.Deps{vet, test, windows},
})

func main() {
	goyek.SetDefault(goyek.Define(goyek.Task{
		Name:  "ci",
		Usage: "vet and test",
		Deps:  goyek.Deps{vet, test},
	}))
	goyek.Main(os.Args[1:])
}

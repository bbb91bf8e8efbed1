package language

// Go executes submissions with `go run` inside the official toolchain image.
type Go struct{}

func (g *Go) Name() string { return "go" }

func (g *Go) Image() string { return "docker.io/library/golang:1.24-alpine" }

func (g *Go) Command(codePath string) []string {
	return []string{"go", "run", codePath}
}

func (g *Go) FileExtension() string { return ".go" }

func (g *Go) TestDriver(string) (string, string, []string, bool) {
	return "", "", nil, false
}

func (g *Go) ScratchExec() bool { return true }

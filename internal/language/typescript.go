package language

// TypeScript executes submissions with Node.js using its type-stripping
// loader, so no separate compile step or image is needed.
type TypeScript struct{}

func (t *TypeScript) Name() string { return "typescript" }

func (t *TypeScript) Image() string { return "docker.io/library/node:22-slim" }

func (t *TypeScript) Command(codePath string) []string {
	return []string{
		"node",
		"--max-old-space-size=256",
		"--experimental-strip-types",
		"--no-warnings",
		codePath,
	}
}

func (t *TypeScript) FileExtension() string { return ".ts" }

func (t *TypeScript) TestDriver(string) (string, string, []string, bool) {
	return "", "", nil, false
}

func (t *TypeScript) ScratchExec() bool { return false }

package language

// Bash executes shell submissions under a POSIX sh.
type Bash struct{}

func (b *Bash) Name() string { return "bash" }

func (b *Bash) Image() string { return "docker.io/library/alpine:3.19" }

func (b *Bash) Command(codePath string) []string {
	return []string{
		"/bin/sh",
		"-e", // Exit on error
		"-u", // Treat unset variables as error
		codePath,
	}
}

func (b *Bash) FileExtension() string { return ".sh" }

func (b *Bash) TestDriver(string) (string, string, []string, bool) {
	return "", "", nil, false
}

func (b *Bash) ScratchExec() bool { return false }

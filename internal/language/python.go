package language

import "fmt"

// Python executes submissions with CPython.
type Python struct{}

func (p *Python) Name() string { return "python" }

func (p *Python) Image() string { return "docker.io/library/python:3.12-slim" }

func (p *Python) Command(codePath string) []string {
	return []string{
		"python3", "-u", // Unbuffered output
		"-B", // Don't write .pyc files
		codePath,
	}
}

func (p *Python) FileExtension() string { return ".py" }

// pythonDriver loads the submission as a module. If it defines exactly one
// top-level function and the test provides input, the input is split on
// commas, coerced to numbers where possible and passed as arguments; the
// return value is printed. Otherwise whatever the submission printed while
// loading becomes the output, so plain stdin/stdout scripts still work.
const pythonDriver = `import contextlib
import importlib.util
import inspect
import io
import sys

spec = importlib.util.spec_from_file_location("submission", %q)
mod = importlib.util.module_from_spec(spec)

buf = io.StringIO()
data = sys.stdin.read()
stdin_rest = io.StringIO(data)
sys.stdin = stdin_rest
with contextlib.redirect_stdout(buf):
    spec.loader.exec_module(mod)

funcs = [f for f in vars(mod).values()
         if inspect.isfunction(f) and f.__module__ == "submission"]

text = data.strip()
if len(funcs) == 1 and text:
    args = []
    for part in text.split(","):
        part = part.strip()
        for cast in (int, float):
            try:
                args.append(cast(part))
                break
            except ValueError:
                continue
        else:
            args.append(part)
    result = funcs[0](*args)
    if result is not None:
        print(result)
else:
    sys.stdout.write(buf.getvalue())
`

func (p *Python) TestDriver(codePath string) (string, string, []string, bool) {
	source := fmt.Sprintf(pythonDriver, codePath)
	return source, "driver.py", []string{"python3", "-u", "-B", "/workspace/driver.py"}, true
}

func (p *Python) ScratchExec() bool { return false }

package language

import "fmt"

// JavaScript executes submissions with Node.js.
type JavaScript struct{}

func (j *JavaScript) Name() string { return "javascript" }

func (j *JavaScript) Image() string { return "docker.io/library/node:20-slim" }

func (j *JavaScript) Command(codePath string) []string {
	return []string{
		"node",
		"--max-old-space-size=256", // Limit V8 heap
		codePath,
	}
}

func (j *JavaScript) FileExtension() string { return ".js" }

// nodeDriver mirrors the Python driver: a submission exporting (or declaring
// as its only top-level function) a single function is called with the
// comma-split test input; anything else runs as a plain stdin/stdout script.
const nodeDriver = `const fs = require("fs");
const path = %q;

const data = fs.readFileSync(0, "utf8");

let captured = "";
const realWrite = process.stdout.write.bind(process.stdout);
process.stdout.write = (chunk) => {
  captured += chunk;
  return true;
};
const mod = require(path);
process.stdout.write = realWrite;

let fn = null;
if (typeof mod === "function") {
  fn = mod;
} else if (mod && typeof mod === "object") {
  const fns = Object.values(mod).filter((v) => typeof v === "function");
  if (fns.length === 1) fn = fns[0];
}

const text = data.trim();
if (fn && text) {
  const args = text.split(",").map((part) => {
    const trimmed = part.trim();
    const num = Number(trimmed);
    return Number.isNaN(num) || trimmed === "" ? trimmed : num;
  });
  const result = fn(...args);
  if (result !== undefined) console.log(String(result));
} else {
  process.stdout.write(captured);
}
`

func (j *JavaScript) TestDriver(codePath string) (string, string, []string, bool) {
	source := fmt.Sprintf(nodeDriver, codePath)
	return source, "driver.js", []string{"node", "--max-old-space-size=256", "/workspace/driver.js"}, true
}

func (j *JavaScript) ScratchExec() bool { return false }

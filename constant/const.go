package constant

import (
	_ "embed"
	"strings"
	"time"
)

const (
	AppName = "ynibridge"
)

var (
	//go:embed version
	version     string
	Version     = strings.TrimSpace(version)
	compileTime string
	CompileTime time.Time
)

func init() {
	if compileTime == "" {
		CompileTime = time.Now().UTC().Truncate(time.Second)
		return
	}
	t, err := time.Parse(time.RFC3339, compileTime)
	if nil != err {
		panic("could not parse CompileTime constant " + compileTime + ". Make sure it is set at build time in RFC3339 format")
	}
	CompileTime = t
}

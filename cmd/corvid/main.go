// corvid is a neural-network-guided chess engine speaking the UCI protocol over stdin/stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/seekerror/logw"

	"github.com/corvidchess/corvid/pkg/console"
	"github.com/corvidchess/corvid/pkg/engine"
	"github.com/corvidchess/corvid/pkg/options"
	"github.com/corvidchess/corvid/pkg/uci"
)

func main() {
	flag.Parse()
	ctx := context.Background()

	in := readStdinLines(ctx)
	switch <-in {
	case uci.ProtocolName:
		reg := options.New()
		e := engine.New(ctx, "Corvid", "corvidchess", reg)

		driver, out := uci.NewDriver(ctx, e, in)
		go writeStdoutLines(ctx, out)

		<-driver.Closed()

	case console.ProtocolName:
		reg := options.New()
		e := engine.New(ctx, "Corvid", "corvidchess", reg)

		driver, out := console.NewDriver(ctx, e, in)
		go writeStdoutLines(ctx, out)

		<-driver.Closed()
	}

	logw.Exitf(ctx, "Corvid exited")
}

func readStdinLines(ctx context.Context) <-chan string {
	ret := make(chan string, 1)
	go func() {
		defer close(ret)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			logw.Debugf(ctx, "<< %v", scanner.Text())
			ret <- scanner.Text()
		}
	}()
	return ret
}

func writeStdoutLines(ctx context.Context, out <-chan string) {
	for line := range out {
		logw.Debugf(ctx, ">> %v", line)
		_, _ = fmt.Fprintln(os.Stdout, line)
	}
}

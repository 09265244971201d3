package sshtest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// scpSink implements the receiving side of "scp -t target" for regular
// files. A target that is an existing directory receives files under their
// own names, any other target is the file itself.
func scpSink(rw io.ReadWriter, target string) error {
	intoDir := false
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		intoDir = true
	}
	r := bufio.NewReader(rw)
	ok := func() { _, _ = rw.Write([]byte{0}) }
	fail := func(format string, args ...interface{}) error {
		msg := fmt.Sprintf(format, args...)
		_, _ = rw.Write(append([]byte{2}, []byte("scp: "+msg+"\n")...))
		return fmt.Errorf("%s", msg)
	}

	ok()
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !strings.HasPrefix(line, "C") {
			return fail("unsupported directive %q", strings.TrimSpace(line))
		}
		fields := strings.SplitN(strings.TrimSpace(line[1:]), " ", 3)
		if len(fields) != 3 {
			return fail("malformed file header %q", strings.TrimSpace(line))
		}
		mode, err := strconv.ParseUint(fields[0], 8, 32)
		if err != nil {
			return fail("invalid mode %q", fields[0])
		}
		size, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fail("invalid size %q", fields[1])
		}

		dest := target
		if intoDir {
			dest = filepath.Join(target, filepath.Base(fields[2]))
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(mode))
		if err != nil {
			return fail("%s: %v", dest, err)
		}
		ok()
		_, err = io.CopyN(f, r, size)
		f.Close()
		if err != nil {
			return fail("%s: %v", dest, err)
		}
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		ok()
	}
}

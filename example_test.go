// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux && !race

// The examples drive both ends of a pipe from one process through the
// joined test view. Real deployments run the responder in a separate
// worker process that attaches by name.

package shmpipe_test

import (
	"fmt"
	"os"
	"sync"

	"code.hybscloud.com/shmpipe"
)

// ExampleCreate demonstrates a request/response round trip against an
// uppercasing worker.
func ExampleCreate() {
	name := fmt.Sprintf("/shmpipe-example-%d", os.Getpid())
	region, err := shmpipe.Create(name)
	if err != nil {
		panic(err)
	}
	defer region.Close()
	defer shmpipe.Unlink(name)

	req, err := region.AcquireRequester()
	if err != nil {
		panic(err)
	}
	w, err := region.AsJoined().AcquireResponder()
	if err != nil {
		panic(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		n, err := w.ReadFrameLength()
		if err != nil {
			return
		}
		buf := make([]byte, n)
		w.ReadExact(buf)
		for i, c := range buf {
			if 'a' <= c && c <= 'z' {
				buf[i] = c - 'a' + 'A'
			}
		}
		w.WriteAll(buf)
	}()

	request := []byte("hello, worker")
	response := make([]byte, len(request))
	ticket := req.RequestResponse(request, response)
	wg.Wait()

	fmt.Println(ticket, string(response))

	// Output:
	// 0 HELLO, WORKER
}

// ExampleResponder_TryReadFrameLength demonstrates polling for work
// without blocking.
func ExampleResponder_TryReadFrameLength() {
	name := fmt.Sprintf("/shmpipe-example-try-%d", os.Getpid())
	region, err := shmpipe.Create(name)
	if err != nil {
		panic(err)
	}
	defer region.Close()
	defer shmpipe.Unlink(name)

	w, err := region.AsJoined().AcquireResponder()
	if err != nil {
		panic(err)
	}

	if _, err := w.TryReadFrameLength(); shmpipe.IsWouldBlock(err) {
		fmt.Println("no request yet")
	}

	// Output:
	// no request yet
}

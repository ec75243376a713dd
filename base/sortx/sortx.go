// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sortx provides stable sorts of (key, value) pairs keyed by
// uint32, used for uniform-grid neighbor search in the simulation.
// Every sort takes a caller-owned scratch slice of the same length so
// that per-frame sorting does not allocate.
package sortx

import (
	"fmt"

	"github.com/lefp/particle-sim-sub000/threadpool"
)

// KeyVal is a sort key with an attached value.
type KeyVal struct {
	Key uint32
	Val uint32
}

func checkScratch(arr, scratch []KeyVal) {
	if len(scratch) < len(arr) {
		panic(fmt.Errorf("sortx: scratch length %d is less than array length %d", len(scratch), len(arr)))
	}
}

// MergeSort stably sorts arr by key using a bottom-up merge sort.
// Runs of length skip starting at multiples of skip must already be
// sorted; pass 1 to sort arbitrary input.
func MergeSort(arr, scratch []KeyVal, skip int) {
	n := len(arr)
	if n < 2 {
		return
	}
	checkScratch(arr, scratch)
	scratch = scratch[:n]
	if skip < 1 {
		skip = 1
	}
	src, dst := arr, scratch
	for width := skip; width < n; width *= 2 {
		for lo := 0; lo < n; lo += 2 * width {
			mid := min(lo+width, n)
			hi := min(lo+2*width, n)
			merge(dst[lo:hi], src[lo:mid], src[mid:hi])
		}
		src, dst = dst, src
	}
	if &src[0] != &arr[0] {
		copy(arr, src)
	}
}

// merge writes the stable merge of a and b to dst, which must have
// length len(a)+len(b).
func merge(dst, a, b []KeyVal) {
	i, j := 0, 0
	for k := range dst {
		if j >= len(b) || (i < len(a) && a[i].Key <= b[j].Key) {
			dst[k] = a[i]
			i++
		} else {
			dst[k] = b[j]
			j++
		}
	}
}

// RadixSort stably sorts arr by key using a least-significant-digit
// radix sort with 8-bit digits.
func RadixSort(arr, scratch []KeyVal) {
	n := len(arr)
	if n < 2 {
		return
	}
	checkScratch(arr, scratch)
	scratch = scratch[:n]
	src, dst := arr, scratch
	var counts [256]int
	for shift := uint(0); shift < 32; shift += 8 {
		clear(counts[:])
		for _, kv := range src {
			counts[(kv.Key>>shift)&0xff]++
		}
		offset := 0
		for d, c := range counts {
			counts[d] = offset
			offset += c
		}
		for _, kv := range src {
			d := (kv.Key >> shift) & 0xff
			dst[counts[d]] = kv
			counts[d]++
		}
		src, dst = dst, src
	}
	// four passes leave the result in arr
}

// ParallelSort stably sorts arr by key on the given pool. The array is
// split into one chunk per worker, the chunks are sorted concurrently,
// and adjacent sorted runs are then merged pairwise in parallel rounds.
func ParallelSort(pool *threadpool.Pool, arr, scratch []KeyVal) {
	n := len(arr)
	if n < 2 {
		return
	}
	checkScratch(arr, scratch)
	scratch = scratch[:n]
	threads := pool.Workers()
	if threads < 2 || n < 2*threads {
		MergeSort(arr, scratch, 1)
		return
	}

	bounds := make([]int, threads+1)
	for i := range bounds {
		bounds[i] = i * n / threads
	}
	tasks := make([]threadpool.TaskID, 0, threads)
	for i := range threads {
		lo, hi := bounds[i], bounds[i+1]
		tasks = append(tasks, pool.Enqueue(func() {
			MergeSort(arr[lo:hi], scratch[lo:hi], 1)
		}))
	}
	for _, id := range tasks {
		pool.Wait(id)
	}

	src, dst := arr, scratch
	for len(bounds) > 2 {
		next := make([]int, 0, len(bounds)/2+2)
		tasks = tasks[:0]
		for i := 0; i+1 < len(bounds); i += 2 {
			lo := bounds[i]
			next = append(next, lo)
			if i+2 >= len(bounds) {
				hi := bounds[i+1]
				copy(dst[lo:hi], src[lo:hi])
				continue
			}
			mid, hi := bounds[i+1], bounds[i+2]
			s, d := src, dst
			tasks = append(tasks, pool.Enqueue(func() {
				merge(d[lo:hi], s[lo:mid], s[mid:hi])
			}))
		}
		next = append(next, n)
		for _, id := range tasks {
			pool.Wait(id)
		}
		bounds = next
		src, dst = dst, src
	}
	if &src[0] != &arr[0] {
		copy(arr, src)
	}
}

// IsSorted reports whether arr is sorted by key.
func IsSorted(arr []KeyVal) bool {
	for i := 1; i < len(arr); i++ {
		if arr[i].Key < arr[i-1].Key {
			return false
		}
	}
	return true
}

package screen

import (
	"bufio"
	"strconv"
	"strings"
)

// parseWmctrl parses `wmctrl -lpG` output:
//
//	0x03a00007  0 12345  10 20 1280 720  host Zoom Meeting
func parseWmctrl(out string) []Window {
	var wins []Window
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 8 {
			continue
		}
		nums := make([]int, 5)
		ok := true
		for i, f := range fields[2:7] {
			n, err := strconv.Atoi(f)
			if err != nil {
				ok = false
				break
			}
			nums[i] = n
		}
		if !ok {
			continue
		}
		wins = append(wins, Window{
			ID:     fields[0],
			PID:    nums[0],
			X:      nums[1],
			Y:      nums[2],
			Width:  nums[3],
			Height: nums[4],
			Title:  strings.Join(fields[8:], " "),
		})
	}
	return wins
}

// parseAppleScriptWindows parses the tab-separated lines produced by
// windowListScript: pid, index, x, y, width, height, title.
func parseAppleScriptWindows(out string) []Window {
	var wins []Window
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), "\t", 7)
		if len(parts) != 7 {
			continue
		}
		var nums [6]int
		ok := true
		for i := range nums {
			n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
			if err != nil {
				ok = false
				break
			}
			nums[i] = n
		}
		if !ok {
			continue
		}
		wins = append(wins, Window{
			ID:     strconv.Itoa(nums[0]) + ":" + strconv.Itoa(nums[1]),
			PID:    nums[0],
			X:      nums[2],
			Y:      nums[3],
			Width:  nums[4],
			Height: nums[5],
			Title:  strings.TrimSpace(parts[6]),
		})
	}
	return wins
}

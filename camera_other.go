//go:build !linux

package main

func defaultCamera(width, height int) Camera {
	return unsupportedCamera{}
}

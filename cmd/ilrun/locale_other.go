//go:build !windows

package main

// systemLocale 非 Windows 平台由环境变量决定
func systemLocale() string { return "" }

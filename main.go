// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import "github.com/uap-go/uap/cmd"

func main() {
	cmd.Execute()
}

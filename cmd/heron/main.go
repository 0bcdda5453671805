// Heron - Anti-money-laundering transaction monitoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import "github.com/opensource-finance/heron/internal/cli"

func main() {
	cli.Execute()
}

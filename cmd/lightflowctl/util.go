package main

import (
	"encoding/json"
	"fmt"
)

func printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	check(err)
	fmt.Println(string(data))
}

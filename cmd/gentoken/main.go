package main

import (
	"fmt"
	"os"

	"github.com/avasiliev/tokenguard/internal/service/rotation"
)

func main() {
	value, err := rotation.NewGenerator().Generate()
	if err != nil {
		fmt.Printf("error while generating token value: %v", err)
		os.Exit(1)
	}

	fmt.Println(value)
}

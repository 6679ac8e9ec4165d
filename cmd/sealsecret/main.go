// sealsecret шифрует ключ биржи для BYBIT_API_KEY / BYBIT_SECRET_KEY
// и готовит OPERATOR_PASSWORD_HASH.
//
// Использование:
//
//	ENCRYPTION_KEY=<hex> sealsecret < secret.txt
//	sealsecret -genkey
//	sealsecret -hashpw < password.txt
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"tradeops/pkg/crypto"
)

func main() {
	genKey := flag.Bool("genkey", false, "сгенерировать новый ENCRYPTION_KEY (hex)")
	hashPW := flag.Bool("hashpw", false, "захешировать пароль оператора из stdin (bcrypt)")
	flag.Parse()

	if *genKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			fail(err)
		}
		fmt.Println(hex.EncodeToString(key))
		return
	}

	if *hashPW {
		hash, err := crypto.HashPassword(readLine())
		if err != nil {
			fail(err)
		}
		fmt.Println(hash)
		return
	}

	key, err := crypto.ParseKey(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		fail(fmt.Errorf("ENCRYPTION_KEY: %w", err))
	}

	sealed, err := crypto.Seal(readLine(), key)
	if err != nil {
		fail(err)
	}
	fmt.Println(sealed)
}

func readLine() string {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fail(fmt.Errorf("read stdin: %w", err))
	}
	return strings.TrimRight(line, "\r\n")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "sealsecret:", err)
	os.Exit(1)
}

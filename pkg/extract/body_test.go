package extract

import (
	"strings"
	"testing"
)

func TestBody(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain text message",
			raw: "From: contactenos@globalbank.com.pa\r\n" +
				"Content-Type: text/plain; charset=utf-8\r\n" +
				"\r\n" +
				"Se realizo una compra en ACME PA con tarjeta terminación 1234.\r\n",
			want: "compra en ACME PA con tarjeta terminación 1234",
		},
		{
			name: "multipart prefers text/plain and decodes charset",
			raw: "MIME-Version: 1.0\r\n" +
				"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
				"\r\n" +
				"--b1\r\n" +
				"Content-Type: text/html; charset=utf-8\r\n" +
				"\r\n" +
				"<p>html version</p>\r\n" +
				"--b1\r\n" +
				"Content-Type: text/plain; charset=iso-8859-1\r\n" +
				"Content-Transfer-Encoding: quoted-printable\r\n" +
				"\r\n" +
				"tarjeta terminaci=F3n 5678\r\n" +
				"--b1--\r\n",
			want: "tarjeta terminación 5678",
		},
		{
			name: "invalid UTF-8 is replaced",
			raw:  "Subject: x\r\n\r\ncaf\xe9 compra de $1.00\r\n",
			want: "caf� compra de $1.00",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Body(strings.NewReader(tc.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("body %q does not contain %q", got, tc.want)
			}
		})
	}
}

package analyzer

import (
	"fmt"
	"strings"

	"github.com/b4its/next-kepin/internal/models"
)

const systemPrompt = `Anda adalah analis laporan keuangan. Baca dokumen yang diberikan dan
kembalikan SATU objek JSON tanpa teks lain, tanpa markdown, dengan kunci berikut:

{
  "nama_entitas": string,
  "periode_laporan": string,
  "mata_uang": string,
  "satuan_angka": string,
  "total_aset": number | null,
  "total_liabilitas": number | null,
  "total_ekuitas": number | null,
  "laba_bersih": number | null,
  "data_keuangan_lain": [{"keterangan": string, "nilai": number | null}]
}

Aturan:
- Angka ditulis sebagai angka JSON penuh tanpa pemisah ribuan dan tanpa simbol mata uang.
- Nilai negatif (misalnya rugi) ditulis dengan tanda minus.
- Gunakan null bila nilai tidak ditemukan. Jangan mengarang angka.
- "satuan_angka" menyebut satuan yang dipakai dokumen, misalnya "Nilai Penuh", "Ribuan" atau "Jutaan".`

var modeInstructions = map[models.Mode]string{
	models.ModeFast:   "Cukup ambil angka utama dari neraca dan laba rugi. data_keuangan_lain paling banyak 5 baris.",
	models.ModeNormal: "Ambil angka utama dan pos penting lainnya. data_keuangan_lain paling banyak 15 baris.",
	models.ModeDeep: "Periksa seluruh halaman termasuk catatan atas laporan keuangan. Cocokkan total aset dengan " +
		"jumlah liabilitas dan ekuitas. data_keuangan_lain memuat semua pos material.",
}

// userPrompt describes the document to analyze.
func userPrompt(mode models.Mode, doc Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Jenis analisa: %s.\n", mode.Label())
	b.WriteString(modeInstructions[mode])
	fmt.Fprintf(&b, "\nNama berkas: %s\n", doc.FileName)
	if doc.IsImage() {
		b.WriteString("Dokumen terlampir sebagai gambar.\n")
	} else {
		b.WriteString("Isi dokumen berupa teks hasil ekstraksi PDF di bagian berikutnya.\n")
	}
	return b.String()
}

// documentText wraps extracted PDF text for the user message.
func documentText(text string, cut bool) string {
	var b strings.Builder
	b.WriteString("=== ISI DOKUMEN ===\n")
	b.WriteString(text)
	if cut {
		b.WriteString("\n[teks dipotong, sisa dokumen tidak disertakan]")
	}
	b.WriteString("\n=== AKHIR DOKUMEN ===")
	return b.String()
}

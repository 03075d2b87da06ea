package testutil

import "strings"

// Canonical document type names of the embedded catalog.
const (
	DocCRNM                = "Carteira de Registro Nacional Migratório"
	DocCPF                 = "CPF"
	DocCriminalBrazil      = "Certidão de antecedentes criminais no Brasil"
	DocCriminalOrigin      = "Certidão de antecedentes criminais do país de origem"
	DocPortuguese          = "Comprovante de comunicação em língua portuguesa"
	DocTravel              = "Documento de viagem internacional"
	DocResidenceProof      = "Comprovante de tempo de residência"
	DocLegalRepresentative = "Documento de identificação do representante legal"
	DocIdentity            = "Documento de identidade"
	DocProvisionalCert     = "Certificado de naturalização provisória"
	DocTermReduction       = "Comprovante de redução de prazo"
)

// DocumentTexts holds extracted texts that validate against the embedded
// catalog. The Brazilian criminal certificate was issued on 02/01/2025.
var DocumentTexts = map[string]string{
	DocCRNM: "REPÚBLICA FEDERATIVA DO BRASIL. CARTEIRA DE REGISTRO NACIONAL MIGRATÓRIO. " +
		"Nome: JEAN PIERRE LOUIS. Nacionalidade: HAITIANA. Filiação: MARIE LOUIS. " +
		"Validade: INDETERMINADA. Data de emissão: 10/02/2020.",

	DocCPF: "Ministério da Fazenda. Receita Federal do Brasil. Comprovante de Inscrição no " +
		"Cadastro de Pessoas Físicas. CPF 123.456.789-00. Nome: JEAN PIERRE LOUIS. " +
		"Situação Cadastral: REGULAR.",

	DocCriminalBrazil: "PODER JUDICIÁRIO. JUSTIÇA FEDERAL DA 3ª REGIÃO. CERTIDÃO JUDICIAL CRIMINAL NEGATIVA. " +
		"Certifico que, pesquisando os registros de distribuições de ações criminais, NADA CONSTA " +
		"contra o requerente. Certidão emitida em 02/01/2025. A autenticidade pode ser verificada " +
		"em https://web.trf3.jus.br/certidao.",

	DocCriminalOrigin: "REPUBLIQUE D'HAITI. Tradução juramentada. CERTIFICADO DE ANTECEDENTES CRIMINAIS. " +
		"O Ministério da Justiça certifica que o requerente nunca foi condenado. " +
		"Tradutor público juramentado, matrícula JUCESP nº 1234.",

	DocPortuguese: "DECLARAÇÃO. Declaramos que JEAN PIERRE LOUIS concluiu o curso de Língua Portuguesa " +
		"para estrangeiros, com carga horária de 60 horas, na Universidade Federal de São Paulo. " +
		"Resultado: aprovado.",

	DocTravel: "PASSEPORT / PASSAPORTE. REPUBLIQUE D'HAITI. Type P. Code HTI. Nom: LOUIS. Prénoms: JEAN PIERRE. " +
		"Nationalité: HAITIENNE. Date de naissance: 12 MAR 2012. Date d'expiration: 11 MAR 2027.",

	DocResidenceProof: "COMPROVANTE DE RESIDÊNCIA. Declaro para os devidos fins que JEAN PIERRE LOUIS reside " +
		"na Rua das Flores, 123, Bairro Centro, São Paulo/SP, desde março de 2016, conforme contrato anexo.",

	DocLegalRepresentative: "CARTEIRA DE IDENTIDADE. Registro Geral 12.345.678-9. Nome: MARIE LOUIS. " +
		"Filiação: PAUL LOUIS. Data de nascimento: 01/01/1985. Data de expedição: 05/05/2015.",

	DocIdentity: "REPÚBLICA FEDERATIVA DO BRASIL. CARTEIRA DE IDENTIDADE. Nome: JEAN PIERRE LOUIS. " +
		"Filiação: MARIE LOUIS. Naturalidade: PORTO PRÍNCIPE. Data de expedição: 03/04/2023.",

	DocProvisionalCert: "MINISTÉRIO DA JUSTIÇA E SEGURANÇA PÚBLICA. CERTIFICADO DE NATURALIZAÇÃO PROVISÓRIA. " +
		"Nome: JEAN PIERRE LOUIS. Nacionalidade de origem: haitiana. Publicado no Diário Oficial da União.",

	DocTermReduction: "Certidão de casamento com cônjuge brasileira, apresentada para fins de redução de prazo " +
		"de residência nos termos do art. 65 da Lei de Migração.",
}

// Documents returns a copy of DocumentTexts restricted to names.
func Documents(names ...string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = DocumentTexts[n]
	}
	return out
}

// Text returns s repeated until it is at least n characters long.
func Text(s string, n int) string {
	if s == "" {
		s = "x"
	}
	return strings.Repeat(s, n/len(s)+1)[:n]
}
